package argateway

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

// sqs caps per-message delay at 15 minutes
const maxQueueDelaySeconds = 900

type EnqueueOptions struct {
	GroupId      string
	DedupId      string
	DelaySeconds int64
}

// Handler processes one message. A non-nil error leaves the message on
// the queue for redelivery.
type Handler func(ctx context.Context, body []byte) error

type Queue interface {
	Enqueue(queue string, body []byte, opts *EnqueueOptions) error

	// Consume blocks receiving from queue until ctx is cancelled.
	Consume(ctx context.Context, queue string, handler Handler)

	Close() error
}

type SqsQueue struct {
	sqsApi    sqsiface.SQSAPI
	queueUrls map[string]string
}

func NewSqsQueue(accKey, secretKey, region string, queueUrls map[string]string) *SqsQueue {
	mySession := session.Must(session.NewSession())
	cred := credentials.NewStaticCredentials(accKey, secretKey, "")
	cfgs := aws.NewConfig().WithRegion(region).WithCredentials(cred)
	log.Info("run with sqs success")
	return &SqsQueue{
		sqsApi:    sqs.New(mySession, cfgs),
		queueUrls: queueUrls,
	}
}

func (s *SqsQueue) Enqueue(queue string, body []byte, opts *EnqueueOptions) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueUrls[queue]),
		MessageBody: aws.String(string(body)),
	}
	if opts != nil {
		if opts.GroupId != "" {
			input.MessageGroupId = aws.String(opts.GroupId)
		}
		if opts.DedupId != "" {
			input.MessageDeduplicationId = aws.String(opts.DedupId)
		}
		if opts.DelaySeconds > 0 {
			delay := opts.DelaySeconds
			if delay > maxQueueDelaySeconds {
				delay = maxQueueDelaySeconds
			}
			input.DelaySeconds = aws.Int64(delay)
		}
	}
	_, err := s.sqsApi.SendMessage(input)
	return err
}

func (s *SqsQueue) Consume(ctx context.Context, queue string, handler Handler) {
	queueUrl := s.queueUrls[queue]
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		resp, err := s.sqsApi.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueUrl),
			MaxNumberOfMessages: aws.Int64(10),
			WaitTimeSeconds:     aws.Int64(20),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("receive message failed", "queue", queue, "err", err)
			time.Sleep(2 * time.Second)
			continue
		}
		for _, msg := range resp.Messages {
			if err := handler(ctx, []byte(aws.StringValue(msg.Body))); err != nil {
				// leave it for redelivery after the visibility timeout
				log.Warn("handle message failed", "queue", queue, "err", err)
				continue
			}
			_, err := s.sqsApi.DeleteMessage(&sqs.DeleteMessageInput{
				QueueUrl:      aws.String(queueUrl),
				ReceiptHandle: msg.ReceiptHandle,
			})
			if err != nil {
				log.Error("delete message failed", "queue", queue, "err", err)
			}
		}
	}
}

func (s *SqsQueue) Close() error {
	return nil
}

// MemQueue is an in-process Queue used by tests and single-node runs.
// Delays and dedup ids behave like the sqs variant; a failed handler
// gets the message redelivered after a short pause.
type MemQueue struct {
	mu     sync.Mutex
	chans  map[string]chan []byte
	dedup  map[string]time.Time
	closed bool

	chanCap         int
	RedeliveryPause time.Duration
}

func NewMemQueue() *MemQueue {
	return &MemQueue{
		chans:           make(map[string]chan []byte),
		dedup:           make(map[string]time.Time),
		chanCap:         10000,
		RedeliveryPause: 200 * time.Millisecond,
	}
}

func (m *MemQueue) ch(queue string) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chans[queue]
	if !ok {
		c = make(chan []byte, m.chanCap)
		m.chans[queue] = c
	}
	return c
}

func (m *MemQueue) Enqueue(queue string, body []byte, opts *EnqueueOptions) error {
	if opts != nil && opts.DedupId != "" {
		m.mu.Lock()
		dedupKey := queue + "/" + opts.DedupId
		if at, ok := m.dedup[dedupKey]; ok && time.Since(at) < 5*time.Minute {
			m.mu.Unlock()
			return nil
		}
		m.dedup[dedupKey] = time.Now()
		m.mu.Unlock()
	}
	c := m.ch(queue)
	deliver := func() {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		c <- body
	}
	if opts != nil && opts.DelaySeconds > 0 {
		time.AfterFunc(time.Duration(opts.DelaySeconds)*time.Second, deliver)
		return nil
	}
	deliver()
	return nil
}

func (m *MemQueue) Consume(ctx context.Context, queue string, handler Handler) {
	c := m.ch(queue)
	for {
		select {
		case <-ctx.Done():
			return
		case body := <-c:
			if err := handler(ctx, body); err != nil {
				log.Warn("handle message failed", "queue", queue, "err", err)
				// the send blocks until there is room, a full channel
				// must not lose the message
				time.AfterFunc(m.RedeliveryPause, func() {
					m.mu.Lock()
					closed := m.closed
					m.mu.Unlock()
					if closed {
						return
					}
					c <- body
				})
			}
		}
	}
}

func (m *MemQueue) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Size reports pending messages on queue, delayed ones excluded.
func (m *MemQueue) Size(queue string) int {
	return len(m.ch(queue))
}
