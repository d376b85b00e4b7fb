package domain

import "errors"

// Engine-level sentinels. The control surface maps them onto AppError
// codes; adapters never see them directly.
var (
	ErrWorkerClosed         = errors.New("worker closed")
	ErrRouterClosed         = errors.New("router closed")
	ErrTransportClosed      = errors.New("transport closed")
	ErrProducerClosed       = errors.New("producer closed")
	ErrConsumerClosed       = errors.New("consumer closed")
	ErrProducerNotFound     = errors.New("producer not found")
	ErrUnsupportedTransport = errors.New("unsupported transport settings")
	ErrCannotConsume        = errors.New("rtp capabilities cannot consume producer")
	ErrAlreadyConnected     = errors.New("transport already connected")
	ErrMissingRemoteParams  = errors.New("missing remote connection parameters")
	ErrUnsupportedCodec     = errors.New("codec not supported by router")
)
