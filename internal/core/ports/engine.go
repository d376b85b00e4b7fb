package ports

import (
	"context"
	"time"

	"sfucore/internal/core/domain"
)

// MediaEngine creates the workers that host routers. Everything below
// it is owned by the engine; the core only holds handles.
type MediaEngine interface {
	CreateWorker(ctx context.Context) (EngineWorker, error)
}

type EngineWorker interface {
	ID() string
	CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (Router, error)
	// OnDied registers fn to run once if the worker crashes.
	OnDied(fn func(err error))
	Close() error
}

type Router interface {
	ID() string
	RtpCapabilities() domain.RtpCapabilities
	CreateTransport(ctx context.Context, settings domain.TransportSettings) (Transport, error)
	CanConsume(producerID string, caps domain.RtpCapabilities) bool
	CreateAudioLevelObserver(ctx context.Context, opts AudioLevelObserverOptions) (AudioLevelObserver, error)
	Close() error
	Closed() bool
}

type ProduceOptions struct {
	Kind          domain.MediaKind
	RtpParameters domain.RtpParameters
	Paused        bool
}

type ConsumeOptions struct {
	ProducerID      string
	RtpCapabilities domain.RtpCapabilities
	Paused          bool
}

type Transport interface {
	ID() string
	Class() domain.TransportClass
	// Info returns the local parameters a client needs to connect.
	Info() domain.TransportInfo
	Connect(ctx context.Context, params domain.ConnectParams) error
	// WaitConnected blocks until the transport is usable or ctx ends.
	WaitConnected(ctx context.Context) error
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	// OnClose listeners run once, after the transport and everything it
	// carries are closed. Registering on a closed transport runs fn at once.
	OnClose(fn func())
	Close() error
	Closed() bool
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Paused() bool
	Pause() error
	Resume() error
	OnClose(fn func())
	Close() error
	Closed() bool
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Paused() bool
	ProducerPaused() bool
	Pause() error
	Resume() error
	OnClose(fn func())
	Close() error
	Closed() bool
}

type AudioLevelObserverOptions struct {
	Interval   time.Duration
	Threshold  int8
	MaxEntries int
}

// AudioVolume is one entry of a volumes report, loudest first.
type AudioVolume struct {
	ProducerID string
	Volume     int8
}

type AudioLevelObserver interface {
	AddProducer(producerID string) error
	RemoveProducer(producerID string) error
	OnVolumes(fn func(volumes []AudioVolume))
	OnSilence(fn func())
	Close() error
}
