package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SavePage(ctx context.Context, pageId string, content []byte) error {
	args := m.Called(ctx, pageId, content)
	return args.Error(0)
}

func (m *MockStore) LoadPage(ctx context.Context, pageId string) ([]byte, error) {
	args := m.Called(ctx, pageId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStore) SaveThumbnail(ctx context.Context, pageId string, thumbnail []byte) error {
	args := m.Called(ctx, pageId, thumbnail)
	return args.Error(0)
}
