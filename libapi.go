package eventbus

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/eventbus/internal/runtime"
	configpkg "github.com/drblury/eventbus/internal/runtime/config"
	"github.com/drblury/eventbus/internal/runtime/deadletter"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	idspkg "github.com/drblury/eventbus/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/eventbus/internal/runtime/metadata"
	metricspkg "github.com/drblury/eventbus/internal/runtime/metrics"
	"github.com/drblury/eventbus/transport"
)

type (
	Bus          = runtimepkg.Bus
	Dependencies = runtimepkg.Dependencies
	Config       = configpkg.Config

	Transport        = transport.Transport
	TransportBuilder = transport.Builder
	Registry         = transport.Registry
	Environment      = transport.Environment
	Capabilities     = transport.Capabilities
	Handler          = transport.Handler
	Delivery         = transport.Delivery
	HealthStatus     = transport.HealthStatus
	Hooks            = transport.Hooks
	AttemptContext   = transport.AttemptContext

	DeadLetterRecord  = deadletter.Record
	DeadLetterSummary = metricspkg.Snapshot

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError
	PermanentError        = errspkg.PermanentError
)

// Transport modes.
const (
	ModeStub    = configpkg.ModeStub
	ModeDurable = configpkg.ModeDurable
	ModeMemory  = configpkg.ModeMemory
)

var (
	New            = runtimepkg.New
	Load           = configpkg.Load
	LoadFrom       = configpkg.LoadFrom
	ValidateConfig = configpkg.ValidateConfig

	NewRegistry              = transport.NewRegistry
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.RegisterWithCapabilities
	GetCapabilities          = transport.GetCapabilities

	Permanent   = errspkg.Permanent
	IsPermanent = errspkg.IsPermanent

	ParseDeadLetter = deadletter.Parse

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired  = errspkg.ErrConfigRequired
	ErrLoggerRequired  = errspkg.ErrLoggerRequired
	ErrHandlerRequired = errspkg.ErrHandlerRequired
	ErrTopicRequired   = errspkg.ErrTopicRequired
	ErrClosed          = errspkg.ErrClosed
	ErrUnknownMode     = errspkg.ErrUnknownMode
	ErrAttemptTimeout  = errspkg.ErrAttemptTimeout
	ErrHandlerPanic    = errspkg.ErrHandlerPanic

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	NewMessageID = idspkg.NewMessageID
)

// JSONHandler adapts a handler that takes a decoded T.
func JSONHandler[T any](fn func(ctx context.Context, event T) error) Handler {
	return runtimepkg.JSONHandler(fn)
}

// ProtoHandler adapts a handler that takes a decoded protobuf message.
func ProtoHandler[T proto.Message](newFn func() T, fn func(ctx context.Context, event T) error) Handler {
	return runtimepkg.ProtoHandler(newFn, fn)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
