// Package mocks holds gomock doubles for the ports interfaces
// TextGenerator, DocumentParser and WebSearcher. They follow mockgen's
// layout so the go:generate directive in package ports can replace them.
package mocks

import (
	context "context"
	reflect "reflect"

	domain "github.com/aescanero/tenderflow/pkg/domain"
	gomock "go.uber.org/mock/gomock"
)

// MockTextGenerator is a mock of TextGenerator interface.
type MockTextGenerator struct {
	ctrl     *gomock.Controller
	recorder *MockTextGeneratorMockRecorder
	isgomock struct{}
}

// MockTextGeneratorMockRecorder is the mock recorder for MockTextGenerator.
type MockTextGeneratorMockRecorder struct {
	mock *MockTextGenerator
}

// NewMockTextGenerator creates a new mock instance.
func NewMockTextGenerator(ctrl *gomock.Controller) *MockTextGenerator {
	mock := &MockTextGenerator{ctrl: ctrl}
	mock.recorder = &MockTextGeneratorMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTextGenerator) EXPECT() *MockTextGeneratorMockRecorder {
	return m.recorder
}

// Generate mocks base method.
func (m *MockTextGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string, cfg domain.GenerationConfig) (string, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Generate", ctx, systemPrompt, userPrompt, cfg)
	ret0, _ := ret[0].(string)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Generate indicates an expected call of Generate.
func (mr *MockTextGeneratorMockRecorder) Generate(ctx, systemPrompt, userPrompt, cfg any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Generate", reflect.TypeOf((*MockTextGenerator)(nil).Generate), ctx, systemPrompt, userPrompt, cfg)
}

// MockDocumentParser is a mock of DocumentParser interface.
type MockDocumentParser struct {
	ctrl     *gomock.Controller
	recorder *MockDocumentParserMockRecorder
	isgomock struct{}
}

// MockDocumentParserMockRecorder is the mock recorder for MockDocumentParser.
type MockDocumentParserMockRecorder struct {
	mock *MockDocumentParser
}

// NewMockDocumentParser creates a new mock instance.
func NewMockDocumentParser(ctrl *gomock.Controller) *MockDocumentParser {
	mock := &MockDocumentParser{ctrl: ctrl}
	mock.recorder = &MockDocumentParserMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockDocumentParser) EXPECT() *MockDocumentParserMockRecorder {
	return m.recorder
}

// Parse mocks base method.
func (m *MockDocumentParser) Parse(ctx context.Context, ref domain.FileRef) (*domain.ParsedDocument, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Parse", ctx, ref)
	ret0, _ := ret[0].(*domain.ParsedDocument)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Parse indicates an expected call of Parse.
func (mr *MockDocumentParserMockRecorder) Parse(ctx, ref any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Parse", reflect.TypeOf((*MockDocumentParser)(nil).Parse), ctx, ref)
}

// MockWebSearcher is a mock of WebSearcher interface.
type MockWebSearcher struct {
	ctrl     *gomock.Controller
	recorder *MockWebSearcherMockRecorder
	isgomock struct{}
}

// MockWebSearcherMockRecorder is the mock recorder for MockWebSearcher.
type MockWebSearcherMockRecorder struct {
	mock *MockWebSearcher
}

// NewMockWebSearcher creates a new mock instance.
func NewMockWebSearcher(ctrl *gomock.Controller) *MockWebSearcher {
	mock := &MockWebSearcher{ctrl: ctrl}
	mock.recorder = &MockWebSearcherMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockWebSearcher) EXPECT() *MockWebSearcherMockRecorder {
	return m.recorder
}

// Search mocks base method.
func (m *MockWebSearcher) Search(ctx context.Context, query string, count int) ([]domain.WebResult, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Search", ctx, query, count)
	ret0, _ := ret[0].([]domain.WebResult)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Search indicates an expected call of Search.
func (mr *MockWebSearcherMockRecorder) Search(ctx, query, count any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Search", reflect.TypeOf((*MockWebSearcher)(nil).Search), ctx, query, count)
}
