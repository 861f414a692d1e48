// Package linkeddevice moves files between a client device and the linked server device that
// uploads on its behalf, over an AMQP queue.
package linkeddevice

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/uploader"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
)

const (
	tagHeader  = "devdiag-tag"
	nameHeader = "devdiag-name"
)

// Config locates the queue shared by a linked pair
type Config struct {
	URL   string
	Queue string
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSender publishes files to the linked server device. The connection is opened lazily and
// dropped after a failed publish, so the next send reconnects.
type AMQPSender struct {
	config Config

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
}

var _ uploader.LinkedDeviceSender = (*AMQPSender)(nil)

func NewAMQPSender(config Config) *AMQPSender {
	return &AMQPSender{config: config}
}

func (s *AMQPSender) channelLocked() (channel, error) {
	if s.ch != nil {
		return s.ch, nil
	}
	conn, err := amqp.Dial(s.config.URL)
	if err != nil {
		return nil, errors.Wrap(err, "Cannot connect to linked device broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "Cannot open channel")
	}
	if _, err = ch.QueueDeclare(s.config.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "Cannot declare queue %s", s.config.Queue)
	}
	s.conn = conn
	s.ch = ch
	return ch, nil
}

// SendFileToLinkedDevice publishes file under tag and removes it once the broker has it
func (s *AMQPSender) SendFileToLinkedDevice(ctx context.Context, file, tag string) error {
	body, err := ioutil.ReadFile(file)
	if err != nil {
		return errors.Wrapf(err, "Cannot read %s", file)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.channelLocked()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, "", s.config.Queue, false, false, amqp.Publishing{
		Headers: amqp.Table{
			tagHeader:  tag,
			nameHeader: filepath.Base(file),
		},
		ContentType:  "application/octet-stream",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		if closeErr := s.closeLocked(); closeErr != nil {
			logger.G(ctx).WithError(closeErr).Debug("Error closing broken broker connection")
		}
		return errors.Wrap(err, "Cannot publish file to linked device")
	}

	if err = os.Remove(file); err != nil && !os.IsNotExist(err) {
		logger.G(ctx).WithError(err).WithField("file", file).Warn("Cannot remove forwarded file")
	}
	return nil
}

func (s *AMQPSender) closeLocked() error {
	var err error
	if s.ch != nil {
		err = multierr.Append(err, s.ch.Close())
	}
	if s.conn != nil {
		err = multierr.Append(err, s.conn.Close())
	}
	s.ch = nil
	s.conn = nil
	return err
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}
