package linkeddevice

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Netflix/devdiag/logger"
	"github.com/google/renameio"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// FileHandler takes ownership of a received file
type FileHandler func(ctx context.Context, file, tag string) error

// Receiver runs on the server device and hands every file its clients forward to a FileHandler
type Receiver struct {
	config  Config
	dir     string
	handler FileHandler
}

func NewReceiver(config Config, dir string, handler FileHandler) (*Receiver, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "Cannot create receive directory %s", dir)
	}
	return &Receiver{config: config, dir: dir, handler: handler}, nil
}

// Run consumes until ctx is done or the broker goes away
func (r *Receiver) Run(ctx context.Context) error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return errors.Wrap(err, "Cannot connect to linked device broker")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "Cannot open channel")
	}
	defer ch.Close()

	if _, err = ch.QueueDeclare(r.config.Queue, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "Cannot declare queue %s", r.config.Queue)
	}
	if err = ch.Qos(1, 0, false); err != nil {
		return err
	}
	deliveries, err := ch.Consume(r.config.Queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "Cannot register consumer")
	}

	logger.G(ctx).WithField("queue", r.config.Queue).Info("Receiving files from linked devices")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("Linked device delivery channel closed")
			}
			r.handleDelivery(ctx, d)
		}
	}
}

func (r *Receiver) handleDelivery(ctx context.Context, d amqp.Delivery) {
	tag, _ := d.Headers[tagHeader].(string)
	name, _ := d.Headers[nameHeader].(string)
	name = filepath.Base(name)
	ctx = logger.WithFields(ctx, map[string]interface{}{"tag": tag, "name": name})

	if tag == "" || name == "" || name == "." || name == "/" {
		logger.G(ctx).Warn("Dropping malformed linked device message")
		if err := d.Nack(false, false); err != nil {
			logger.G(ctx).WithError(err).Error("Cannot reject message")
		}
		return
	}

	file := filepath.Join(r.dir, name)
	if err := renameio.WriteFile(file, d.Body, 0600); err != nil {
		logger.G(ctx).WithError(err).Error("Cannot store received file")
		if err = d.Nack(false, true); err != nil {
			logger.G(ctx).WithError(err).Error("Cannot requeue message")
		}
		return
	}

	if err := r.handler(ctx, file, tag); err != nil {
		logger.G(ctx).WithError(err).Error("Cannot handle received file")
		_ = os.Remove(file)
		if err = d.Nack(false, true); err != nil {
			logger.G(ctx).WithError(err).Error("Cannot requeue message")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		logger.G(ctx).WithError(err).Error("Cannot acknowledge message")
	}
}
