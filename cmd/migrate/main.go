package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"chatbridge/internal/constants"
	"chatbridge/internal/errors"
	"chatbridge/internal/kvstore"
	"chatbridge/internal/overlay"
	"chatbridge/internal/privacy"
	"chatbridge/internal/security"

	"github.com/sirupsen/logrus"
)

// report summarizes an import
type report struct {
	Channels int
	Imported int
	Skipped  []string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	dumpPath := fs.String("dump", "", "Path to a JSON export of browser localStorage")
	profilePath := fs.String("profile", constants.DefaultProfileStorePath, "Path to the profile database")
	verbose := fs.Bool("verbose", false, "Log each skipped entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dumpPath == "" {
		return fmt.Errorf("-dump is required")
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	dump, err := readDump(*dumpPath)
	if err != nil {
		return err
	}

	store, err := kvstore.OpenSQLite(ctx, *profilePath, kvstore.Options{
		EncryptionSecret: os.Getenv(constants.ProfileSecretEnv),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open profile: %w", err)
	}
	defer store.Close()

	rep, err := importDump(ctx, overlay.New(store, logger), dump, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Imported %d hidden message(s) across %d channel(s)\n", rep.Imported, rep.Channels)
	if len(rep.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped %d corrupt entr(ies): %s\n", len(rep.Skipped), strings.Join(rep.Skipped, ", "))
	}
	return nil
}

func readDump(path string) (map[string]json.RawMessage, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid dump path: %w", err)
	}
	data, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	var dump map[string]json.RawMessage
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("dump is not a JSON object: %w", err)
	}
	return dump, nil
}

// importDump hides every id of each hidden_messages_<channel> entry. The
// browser stores values as JSON strings holding a serialized array; a raw
// array is accepted too. Unrelated keys are ignored and corrupt entries
// are skipped.
func importDump(ctx context.Context, ov *overlay.Overlay, dump map[string]json.RawMessage, logger *logrus.Logger) (report, error) {
	keys := make([]string, 0, len(dump))
	for key := range dump {
		if strings.HasPrefix(key, constants.HiddenMessagesKeyPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var rep report
	for _, key := range keys {
		channelID := strings.TrimPrefix(key, constants.HiddenMessagesKeyPrefix)
		raw := string(dump[key])
		var stored string
		if err := json.Unmarshal(dump[key], &stored); err == nil {
			raw = stored
		}

		n, err := ov.Import(ctx, channelID, raw)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeStorageWrite) || errors.HasCode(err, errors.ErrCodeStorageRead) {
				return rep, err
			}
			logger.WithError(err).WithField("channel_id", privacy.MaskChannelID(channelID)).Debug("Skipping corrupt entry")
			rep.Skipped = append(rep.Skipped, key)
			continue
		}
		rep.Channels++
		rep.Imported += n
	}
	return rep, nil
}
