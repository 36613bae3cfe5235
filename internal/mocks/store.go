package mocks

import (
	"github.com/brettbedarf/kvfs"
	"github.com/stretchr/testify/mock"
)

// MockStore implements kvfs.Store for testing across packages
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockStore) Clear() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStore) BeginTransaction(mode kvfs.TransactionMode) (kvfs.Transaction, error) {
	args := m.Called(mode)

	// Handle function return types (for wrapping a real transaction)
	if fn, ok := args.Get(0).(func(kvfs.TransactionMode) kvfs.Transaction); ok {
		return fn(mode), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(kvfs.Transaction), args.Error(1)
}

var _ kvfs.Store = (*MockStore)(nil)

// MockTransaction implements kvfs.Transaction for testing across packages
type MockTransaction struct {
	mock.Mock
}

func (m *MockTransaction) Get(key string) ([]byte, bool, error) {
	args := m.Called(key)

	// Handle function return types (for delegating to a real transaction)
	if fn, ok := args.Get(0).(func(string) ([]byte, bool, error)); ok {
		return fn(key)
	}

	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Bool(1), args.Error(2)
}

func (m *MockTransaction) Put(key string, data []byte, overwrite bool) (bool, error) {
	args := m.Called(key, data, overwrite)

	if fn, ok := args.Get(0).(func(string, []byte, bool) (bool, error)); ok {
		return fn(key, data, overwrite)
	}

	return args.Bool(0), args.Error(1)
}

func (m *MockTransaction) Remove(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func (m *MockTransaction) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransaction) Abort() error {
	args := m.Called()
	return args.Error(0)
}

var _ kvfs.Transaction = (*MockTransaction)(nil)

// MockSimpleStore implements kvfs.SimpleStore for testing across packages
type MockSimpleStore struct {
	mock.Mock
}

func (m *MockSimpleStore) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSimpleStore) Clear() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSimpleStore) Get(key string) ([]byte, bool, error) {
	args := m.Called(key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Bool(1), args.Error(2)
}

func (m *MockSimpleStore) Put(key string, data []byte, overwrite bool) (bool, error) {
	args := m.Called(key, data, overwrite)
	return args.Bool(0), args.Error(1)
}

func (m *MockSimpleStore) Remove(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

var _ kvfs.SimpleStore = (*MockSimpleStore)(nil)
