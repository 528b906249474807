package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DetectionEvent describes one step of an upload/detect cycle
type DetectionEvent struct {
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	ImageName    string                 `json:"image_name,omitempty"`
	Duration     time.Duration          `json:"duration,omitempty"`
	Prediction   string                 `json:"prediction,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of detection event
type EventType string

const (
	ImageSelected      EventType = "image_selected"
	FormReset          EventType = "form_reset"
	DetectionStarted   EventType = "detection_started"
	DetectionCompleted EventType = "detection_completed"
	DetectionFailed    EventType = "detection_failed"
	// DetectionDiscarded is emitted when a reply arrives after the form moved on
	DetectionDiscarded EventType = "detection_discarded"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event DetectionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event DetectionEvent)
}

// LoggingObserver logs detection events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles detection events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event DetectionEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
	}
	if event.ImageName != "" {
		fields["image_name"] = event.ImageName
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.Prediction != "" {
		fields["prediction"] = event.Prediction
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case DetectionStarted:
		entry.Info("Detection started")
	case DetectionCompleted:
		entry.Info("Detection completed")
	case DetectionFailed:
		entry.Warn("Detection failed")
	case DetectionDiscarded:
		entry.Debug("Discarded stale detection result")
	case ImageSelected:
		entry.Debug("Image selected")
	case FormReset:
		entry.Debug("Form reset")
	default:
		entry.Info("Detection event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from detection events
type MetricsObserver struct {
	mu                sync.RWMutex
	totalDetections   int64
	successful        int64
	failed            int64
	discarded         int64
	totalDuration     time.Duration
	predictionsByName map[string]int64
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{predictionsByName: make(map[string]int64)}
}

// OnEvent handles detection events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event DetectionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case DetectionStarted:
		o.totalDetections++
	case DetectionCompleted:
		o.successful++
		o.totalDuration += event.Duration
		o.predictionsByName[event.Prediction]++
	case DetectionFailed:
		o.failed++
	case DetectionDiscarded:
		o.discarded++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgDuration := time.Duration(0)
	if o.successful > 0 {
		avgDuration = o.totalDuration / time.Duration(o.successful)
	}

	predictions := make(map[string]int64, len(o.predictionsByName))
	for k, v := range o.predictionsByName {
		predictions[k] = v
	}

	return map[string]interface{}{
		"total_detections":      o.totalDetections,
		"successful_detections": o.successful,
		"failed_detections":     o.failed,
		"discarded_detections":  o.discarded,
		"avg_duration_ms":       avgDuration.Milliseconds(),
		"predictions":           predictions,
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event. Observers run on their
// own goroutines so a slow observer never holds up the form.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event DetectionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		go func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}
