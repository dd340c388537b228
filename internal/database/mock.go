package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCollection struct {
	mock.Mock
}

func (m *MockCollection) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockCollection) Get(ctx context.Context, id string) (*Document, error) {
	args := m.Called(ctx, id)
	if doc, ok := args.Get(0).(*Document); ok {
		return doc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCollection) GetAll(ctx context.Context) ([]Document, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockCollection) Add(ctx context.Context, data map[string]any, actorId string) (*Document, error) {
	args := m.Called(ctx, data, actorId)
	if doc, ok := args.Get(0).(*Document); ok {
		return doc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCollection) AddWithID(ctx context.Context, id string, data map[string]any, actorId string) (*Document, bool, error) {
	args := m.Called(ctx, id, data, actorId)
	if doc, ok := args.Get(0).(*Document); ok {
		return doc, args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *MockCollection) Update(ctx context.Context, id, actorId string, patch map[string]any) (*Document, error) {
	args := m.Called(ctx, id, actorId, patch)
	if doc, ok := args.Get(0).(*Document); ok {
		return doc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCollection) Delete(ctx context.Context, id, actorId string) error {
	args := m.Called(ctx, id, actorId)
	return args.Error(0)
}

func (m *MockCollection) Query(ctx context.Context, field string, value any) ([]Document, error) {
	args := m.Called(ctx, field, value)
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockCollection) Subscribe(ctx context.Context) (Subscription, error) {
	args := m.Called(ctx)
	if sub, ok := args.Get(0).(Subscription); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCollection) SubscribeToDoc(ctx context.Context, id string) (Subscription, error) {
	args := m.Called(ctx, id)
	if sub, ok := args.Get(0).(Subscription); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCollection) SubscribeToQuery(ctx context.Context, field string, value any) (Subscription, error) {
	args := m.Called(ctx, field, value)
	if sub, ok := args.Get(0).(Subscription); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}
