package service

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	"chatbridge/internal/errors"
	"chatbridge/internal/models"
	"chatbridge/pkg/stream/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func enforcedConfig(enforce bool) models.StreamConfig {
	return models.StreamConfig{ChannelType: "messaging", EnforceChannelMembership: &enforce}
}

func TestAdminService_ClearChannel_Member(t *testing.T) {
	client := &mockServerClient{}
	client.On("QueryMembers", mock.Anything, "messaging", "u1-u2", []string{"u1"}).
		Return([]types.Member{{UserID: "u1"}}, nil)
	client.On("TruncateChannel", mock.Anything, "messaging", "u1-u2", true).Return(nil)
	factory := &countingFactory{client: client}

	svc := NewAdminService(factory.build, enforcedConfig(true), quietLogger())
	err := svc.ClearChannel(context.Background(), "u1", "u1-u2")

	assert.NoError(t, err)
	assert.Equal(t, 1, factory.built)
	client.AssertExpectations(t)
}

func TestAdminService_ClearChannel_FreshClientPerCall(t *testing.T) {
	client := &mockServerClient{}
	client.On("TruncateChannel", mock.Anything, "messaging", mock.Anything, true).Return(nil)
	factory := &countingFactory{client: client}
	svc := NewAdminService(factory.build, enforcedConfig(false), quietLogger())

	for i := 0; i < 3; i++ {
		assert.NoError(t, svc.ClearChannel(context.Background(), "u1", "u1-u2"))
	}

	assert.Equal(t, 3, factory.built)
	client.AssertNumberOfCalls(t, "TruncateChannel", 3)
	client.AssertNotCalled(t, "QueryMembers", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminService_ClearChannel_NonMemberForbidden(t *testing.T) {
	client := &mockServerClient{}
	client.On("QueryMembers", mock.Anything, "messaging", "u1-u2", []string{"intruder"}).
		Return([]types.Member{}, nil)
	svc := NewAdminService((&countingFactory{client: client}).build, enforcedConfig(true), quietLogger())

	err := svc.ClearChannel(context.Background(), "intruder", "u1-u2")

	assert.Equal(t, errors.ErrCodeAuthorization, errors.GetCode(err))
	assert.Equal(t, http.StatusForbidden, errors.HTTPStatusCode(err))
	client.AssertNotCalled(t, "TruncateChannel", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminService_ClearChannel_InvalidChannel(t *testing.T) {
	factory := &countingFactory{client: &mockServerClient{}}
	svc := NewAdminService(factory.build, enforcedConfig(true), quietLogger())

	for _, id := range []string{"", "a/b", "messaging:u1-u2"} {
		err := svc.ClearChannel(context.Background(), "u1", id)
		assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusCode(err), id)
	}
	assert.Zero(t, factory.built)
}

func TestAdminService_ClearChannel_ProviderFailure(t *testing.T) {
	client := &mockServerClient{}
	providerErr := &types.APIError{Code: 16, Message: "internal failure", StatusCode: 500}
	client.On("TruncateChannel", mock.Anything, "messaging", "u1-u2", true).Return(providerErr)
	svc := NewAdminService((&countingFactory{client: client}).build, enforcedConfig(false), quietLogger())

	err := svc.ClearChannel(context.Background(), "u1", "u1-u2")

	assert.Equal(t, errors.ErrCodeStreamAPI, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
	resp := errors.ToHTTPResponse(err, true)
	assert.Equal(t, "Internal Server Error", resp.Message)
	assert.Equal(t, providerErr.Error(), resp.Error)
}

func TestAdminService_ClearChannel_MissingChannel(t *testing.T) {
	client := &mockServerClient{}
	client.On("QueryMembers", mock.Anything, "messaging", "u1-u9", []string{"u1"}).
		Return(nil, &types.APIError{Message: "channel does not exist", StatusCode: 404})
	svc := NewAdminService((&countingFactory{client: client}).build, enforcedConfig(true), quietLogger())

	err := svc.ClearChannel(context.Background(), "u1", "u1-u9")
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusCode(err))
}

func TestAdminService_ClearChannel_FactoryFailure(t *testing.T) {
	svc := NewAdminService((&countingFactory{err: stderrors.New("no secret")}).build, enforcedConfig(true), quietLogger())

	err := svc.ClearChannel(context.Background(), "u1", "u1-u2")
	assert.Equal(t, http.StatusInternalServerError, errors.HTTPStatusCode(err))
}
