package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gitea.jw6.us/james/washcal/internal/schedule"
	"gitea.jw6.us/james/washcal/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeProducer struct {
	records  []*kgo.Record
	failWith error
	flushed  bool
	closed   bool
	// bufferFull mimics a client whose brokers are unreachable: a waiting
	// produce would never return, so TryProduce fails immediately.
	bufferFull bool
	wait       chan struct{}
}

func (f *fakeProducer) TryProduce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	if f.bufferFull {
		promise(r, kgo.ErrMaxBuffered)
		return
	}
	f.records = append(f.records, r)
	promise(r, f.failWith)
}

// Produce is the waiting variant; it blocks until wait is closed.
func (f *fakeProducer) Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	if f.bufferFull {
		select {
		case <-f.wait:
		case <-ctx.Done():
		}
	}
	f.records = append(f.records, r)
	promise(r, f.failWith)
}

func (f *fakeProducer) Flush(context.Context) error { f.flushed = true; return nil }
func (f *fakeProducer) Close()                      { f.closed = true }

func sampleChange() schedule.Change {
	start := time.Date(2025, 1, 20, 7, 0, 0, 0, time.UTC)
	return schedule.Change{
		EventID: "e-1",
		Op:      schedule.OpMoved,
		Event: store.Event{
			ID:     "e-1",
			Start:  start,
			End:    start.Add(30 * time.Minute),
			Kind:   store.KindAppointment,
			Status: store.StatusPending,
			Props:  store.ExtendedProps{UserID: "cust-1"},
		},
		At: start.Add(-time.Hour),
	}
}

func TestBuildRecord(t *testing.T) {
	rec, err := buildRecord("topic-a", sampleChange())
	require.NoError(t, err)

	assert.Equal(t, "topic-a", rec.Topic)
	assert.Equal(t, []byte("e-1"), rec.Key)
	assert.Equal(t, []kgo.RecordHeader{
		{Key: "op", Value: []byte("moved")},
		{Key: "kind", Value: []byte("appointment")},
	}, rec.Headers)

	var msg ChangeMessage
	require.NoError(t, json.Unmarshal(rec.Value, &msg))
	assert.Equal(t, "moved", msg.Op)
	assert.Equal(t, "pending", msg.Status)
	assert.Equal(t, "cust-1", msg.UserID)
	assert.JSONEq(t, `{"eventId":"e-1","op":"moved","kind":"appointment","status":"pending",
		"start":"2025-01-20T07:00:00Z","end":"2025-01-20T07:30:00Z","userId":"cust-1","at":"2025-01-20T06:00:00Z"}`,
		string(rec.Value))
}

func TestKafkaPublisherLogsDeliveryFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prod := &fakeProducer{failWith: errors.New("broker down")}
	pub := newKafkaPublisher(prod, DefaultTopic, zap.New(core))

	pub.OnChange(sampleChange())
	require.Len(t, prod.records, 1)
	assert.Equal(t, DefaultTopic, prod.records[0].Topic)
	assert.Equal(t, 1, logs.FilterMessage("publish calendar change").Len())

	require.NoError(t, pub.Close(context.Background()))
	assert.True(t, prod.flushed)
	assert.True(t, prod.closed)
}

func TestKafkaPublisherDropsChangeWhenBufferFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prod := &fakeProducer{bufferFull: true, wait: make(chan struct{})}
	defer close(prod.wait)
	pub := newKafkaPublisher(prod, DefaultTopic, zap.New(core))

	done := make(chan struct{})
	go func() {
		pub.OnChange(sampleChange())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnChange blocked on a full producer buffer")
	}

	assert.Empty(t, prod.records)
	dropped := logs.FilterMessage("dropped calendar change, producer buffer full").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "e-1", dropped[0].ContextMap()["event_id"])
	assert.Equal(t, "moved", dropped[0].ContextMap()["op"])
	assert.Zero(t, logs.FilterMessage("publish calendar change").Len())
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{}, nil)
	assert.Error(t, err)
}
