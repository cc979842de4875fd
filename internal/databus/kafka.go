package databus

import (
	"strings"

	"gopkg.in/Shopify/sarama.v1"
	"moff.io/idconnect/pkg/errors"
	"moff.io/idconnect/pkg/log"
)

type Event interface {
	Serialize() []byte
	Topic() string
	Key() string
}

type DataBus struct {
	producer sarama.SyncProducer
}

// InitDataBus connects a sync producer to the comma separated brokers in hosts.
func InitDataBus(hosts string) (*DataBus, error) {
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForLocal
	p, err := sarama.NewSyncProducer(strings.Split(hosts, ","), conf)
	if err != nil {
		return nil, errors.Wrapf(err, "create kafka producer for %s", hosts)
	}
	log.Info("Kafka producer initialized...")
	return NewDataBus(p), nil
}

func NewDataBus(producer sarama.SyncProducer) *DataBus {
	return &DataBus{producer: producer}
}

func (db *DataBus) PublishRaw(topic, key string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err := db.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapAndReport(err, "produce message")
	}
	log.Debugf("produce message success-partition: %d, offset: %d", partition, offset)
	return nil
}

func (db *DataBus) Publish(e Event) error {
	return db.PublishRaw(e.Topic(), e.Key(), e.Serialize())
}

// Stop closes the producer.
func (db *DataBus) Stop() {
	if err := db.producer.Close(); err != nil {
		log.Warnf("close kafka producer: %v", err)
	}
}
