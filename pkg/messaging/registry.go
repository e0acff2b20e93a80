package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Binding - одна строка таблицы потребителей сервиса.
type Binding struct {
	Exchange string
	Pattern  string
	Queue    string
	Handler  Handler
}

type Subscriber interface {
	Subscribe(exchange, pattern, queue string, handler Handler) error
}

// Registry - таблица потребителей сервиса, собирается при старте.
type Registry struct {
	service  string
	mutex    sync.RWMutex
	bindings []Binding
	queues   map[string]struct{}
}

func NewRegistry(service string) *Registry {
	return &Registry{
		service: service,
		queues:  make(map[string]struct{}),
	}
}

func (r *Registry) Service() string {
	return r.service
}

// Register добавляет привязку. Одна очередь принадлежит ровно одной привязке.
func (r *Registry) Register(exchange, pattern, queue string, handler Handler) error {
	if exchange == "" || queue == "" {
		return fmt.Errorf("exchange and queue are required")
	}
	if handler == nil {
		return fmt.Errorf("nil handler for queue %s", queue)
	}
	if err := ValidatePattern(pattern); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.queues[queue]; exists {
		return fmt.Errorf("queue %s is already registered", queue)
	}
	r.queues[queue] = struct{}{}
	r.bindings = append(r.bindings, Binding{
		Exchange: exchange,
		Pattern:  pattern,
		Queue:    queue,
		Handler:  handler,
	})
	return nil
}

func (r *Registry) Bindings() []Binding {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	bindings := make([]Binding, len(r.bindings))
	copy(bindings, r.bindings)
	return bindings
}

// Exchanges возвращает exchanges, которые читает сервис, без повторов.
func (r *Registry) Exchanges() []string {
	seen := make(map[string]struct{})
	var exchanges []string
	for _, b := range r.Bindings() {
		if _, ok := seen[b.Exchange]; ok {
			continue
		}
		seen[b.Exchange] = struct{}{}
		exchanges = append(exchanges, b.Exchange)
	}
	return exchanges
}

// SubscribeAll подписывает все привязки; каждая независима, ошибки собираются вместе.
func (r *Registry) SubscribeAll(ctx context.Context, s Subscriber) error {
	var errs []error
	for _, b := range r.Bindings() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.Subscribe(b.Exchange, b.Pattern, b.Queue, b.Handler); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", b.Queue, err))
		}
	}
	return errors.Join(errs...)
}

// Install регистрирует таблицу у клиента: подписка выполняется после каждого подключения.
func (r *Registry) Install(c *Client) {
	c.OnConnect(func(ctx context.Context) error {
		return r.SubscribeAll(ctx, c)
	})
}
