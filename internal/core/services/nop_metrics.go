package services

import (
	"time"

	"sfucore/internal/core/domain"
)

// NopMetrics discards every signal. Used when monitoring is disabled.
type NopMetrics struct{}

func (NopMetrics) RoomOpened()                                               {}
func (NopMetrics) RoomClosed()                                               {}
func (NopMetrics) RoomInitDuration(time.Duration)                            {}
func (NopMetrics) PeerJoined(domain.PeerClass)                               {}
func (NopMetrics) PeerLeft(domain.PeerClass)                                 {}
func (NopMetrics) WorkerStates(map[domain.WorkerState]int)                   {}
func (NopMetrics) TransportCreated(domain.TransportClass, domain.Direction) {}
func (NopMetrics) ProducerOpened(domain.MediaKind)                           {}
func (NopMetrics) ProducerClosed(domain.MediaKind)                           {}
func (NopMetrics) ConsumerOpened()                                           {}
func (NopMetrics) ConsumerClosed()                                           {}
func (NopMetrics) ControllerOp(string, string, time.Duration)                {}
func (NopMetrics) Invite(string)                                             {}
