package benchmarks

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/http2"
)

// These benchmarks run against a tableq server started separately, e.g.
// TABLEQ_AUTH_SECRET=test-secret go run .
const (
	tableqURL = "http://localhost:8080"
	authToken = "test-secret"
)

var errNoMessage = errors.New("no message available")

// the server speaks HTTP/2 only, over cleartext (h2c)
var benchmarkClient *http.Client

func init() {
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
		DisableCompression: true, // Reduce CPU overhead
	}

	benchmarkClient = &http.Client{
		Transport: transport,
		Timeout:   35 * time.Second, // Slightly longer than the 30s long polling timeout
	}
}

type newMessageRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType,omitempty"`
}

type messageResponse struct {
	Id      string `json:"id"`
	Content string `json:"content"`
}

func produceMessage(topic, content string) error {
	body, _ := json.Marshal(newMessageRequest{Content: content, ContentType: "json"})

	httpReq, _ := http.NewRequest(http.MethodPost, tableqURL+"/api/v1/topics/"+topic+"/messages", bytes.NewBuffer(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", authToken)

	resp, err := benchmarkClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("produce failed with status: %d", resp.StatusCode)
	}
	return nil
}

func consumeMessage(topic string, wait bool) (*messageResponse, error) {
	httpReq, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v1/messages?topic=%s&wait=%t", tableqURL, topic, wait), nil)
	httpReq.Header.Set("X-API-Key", authToken)

	resp, err := benchmarkClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, errNoMessage
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("consume failed with status: %d", resp.StatusCode)
	}

	var messages []messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, errNoMessage
	}
	return &messages[0], nil
}

func ackMessage(messageID string) error {
	httpReq, _ := http.NewRequest(http.MethodPost, tableqURL+"/api/v1/messages/"+messageID+"/ack", nil)
	httpReq.Header.Set("X-API-Key", authToken)

	resp, err := benchmarkClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("ack failed with status: %d", resp.StatusCode)
	}
	return nil
}

func produceBacklog(b *testing.B, topic string, n int) {
	b.Helper()

	testMessage := `{"task": "process", "data": {"id": 123, "name": "test"}}`
	for range n {
		if err := produceMessage(topic, testMessage); err != nil {
			b.Fatal("Failed to create backlog:", err)
		}
	}
}

// consume claims and acks messagesPerConsumer messages with each of numConsumers concurrent consumers.
func consume(b *testing.B, topic string, numConsumers int, messagesPerConsumer int, wait bool) {
	b.Helper()

	var wg sync.WaitGroup
	for range numConsumers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for range messagesPerConsumer {
				msg, err := consumeMessage(topic, wait)
				if err != nil {
					b.Error(err)
					return
				}
				if err := ackMessage(msg.Id); err != nil {
					b.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func report(title string, messages int, duration time.Duration) {
	fmt.Printf("\n=== %s ===\n", title)
	fmt.Printf("Messages: %d\n", messages)
	fmt.Printf("Duration: %v\n", duration)
	fmt.Printf("Throughput: %.2f messages/sec\n", float64(messages)/duration.Seconds())
	fmt.Printf("Avg Latency: %v\n", duration/time.Duration(messages))
}

// BenchmarkSingleProducerConsumer tests concurrent single producer and single consumer with backlog
func BenchmarkSingleProducerConsumer(b *testing.B) {
	topic := "benchmark.single"
	produceBacklog(b, topic, b.N)

	b.ResetTimer()
	start := time.Now()

	var wg sync.WaitGroup
	var producerErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range b.N {
			if err := produceMessage(topic, `{"task": "process"}`); err != nil {
				producerErr = err
				return
			}
		}
	}()

	consume(b, topic, 1, b.N, false)
	wg.Wait()

	if producerErr != nil {
		b.Fatal("Producer error:", producerErr)
	}
	report("Single Producer/Consumer (with Backlog)", b.N, time.Since(start))
}

func BenchmarkMultipleConsumers(b *testing.B) {
	for _, numConsumers := range []int{5, 20, 50} {
		b.Run(fmt.Sprintf("%d_consumers", numConsumers), func(b *testing.B) {
			topic := fmt.Sprintf("benchmark.consumers_%d", numConsumers)
			messagesPerConsumer := max(b.N/numConsumers, 1)
			totalMessages := messagesPerConsumer * numConsumers

			produceBacklog(b, topic, totalMessages)

			b.ResetTimer()
			start := time.Now()
			consume(b, topic, numConsumers, messagesPerConsumer, false)
			report(fmt.Sprintf("Multiple Consumers (%d consumers)", numConsumers), totalMessages, time.Since(start))
		})
	}
}

// BenchmarkConcurrentProduceAndConsume has consumers long-polling while producers publish
func BenchmarkConcurrentProduceAndConsume(b *testing.B) {
	numWorkers := 25
	messagesPerWorker := max(b.N/numWorkers, 1)
	totalMessages := messagesPerWorker * numWorkers
	topic := "benchmark.concurrent"

	b.ResetTimer()
	start := time.Now()

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range messagesPerWorker {
				if err := produceMessage(topic, `{"task": "concurrent"}`); err != nil {
					b.Error(err)
					return
				}
			}
		}()
	}

	consume(b, topic, numWorkers, messagesPerWorker, true)
	wg.Wait()

	report(fmt.Sprintf("Concurrent Produce and Consume (%d workers)", numWorkers), totalMessages, time.Since(start))
}
