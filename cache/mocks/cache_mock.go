package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetPage(ctx context.Context, pageId string) ([]byte, error) {
	args := m.Called(ctx, pageId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCache) SetPage(ctx context.Context, pageId string, content []byte) error {
	args := m.Called(ctx, pageId, content)
	return args.Error(0)
}

func (m *MockCache) InvalidatePage(ctx context.Context, pageId string) error {
	args := m.Called(ctx, pageId)
	return args.Error(0)
}
