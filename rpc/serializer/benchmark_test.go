package serializer

import (
	"github.com/ValentinKolb/dBroker/rpc/common"
	"strings"
	"testing"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	fetchAllReply := []byte(`{"error_status":false,"error_text":"","data":[` +
		strings.Repeat(`[1,"alpha","2024-01-01T00:00:00Z"],`, 99) + `[1,"alpha","2024-01-01T00:00:00Z"]]}`)

	return map[string]common.Message{
		"Empty": {
			MsgType: common.MsgTSuccess,
		},
		"PopRequest": {
			MsgType:   common.MsgTQPop,
			Key:       "response:6b0e1d3c-2f5e-4c1b-9a7e-0d3f0f2b8c11",
			TimeoutMs: 30000,
		},
		"PushCommand": {
			MsgType: common.MsgTQPush,
			Key:     "broker:commands",
			Value: []byte(`{"type":"cursor_function","name":"execute","db_id":"d1","curr_id":"c1",` +
				`"args":["SELECT id, name FROM assets WHERE owner = %s",["bob"]],"kwargs":{},"response_key":"response:1"}`),
		},
		"PopSmallReply": {
			MsgType: common.MsgTQPop,
			Key:     "response:1",
			Value:   []byte(`{"error_status":false,"error_text":"","data":true}`),
			Ok:      true,
		},
		"PopFetchAllReply": {
			MsgType: common.MsgTQPop,
			Key:     "response:1",
			Value:   fetchAllReply,
			Ok:      true,
		},
		"TryAcquire": {
			MsgType:   common.MsgTLCKTryAcquire,
			Key:       "R1",
			Value:     []byte("6b0e1d3c-2f5e-4c1b-9a7e-0d3f0f2b8c11"),
			TimeoutMs: 100,
		},
		"ErrorMessage": {
			MsgType: common.MsgTError,
			Err:     "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		},
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					_, err := serializer.Serialize(msg)
					if err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages()
	serializedData := make(map[string]map[string][]byte)

	// Pre-serialize all messages with all serializers
	for name, factory := range testSerializers {
		serializer := factory()
		serializedData[name] = make(map[string][]byte)

		for msgName, msg := range messages {
			data, err := serializer.Serialize(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", msgName, name, err)
			}
			serializedData[name][msgName] = data
		}
	}

	// Benchmark deserialization
	for name, factory := range testSerializers {
		for msgName := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				data := serializedData[name][msgName]
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var msg common.Message
					err := serializer.Deserialize(data, &msg)
					if err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize measures and reports the serialized size for each message type
func BenchmarkSize(b *testing.B) {
	messages := benchmarkMessages()

	for name, factory := range testSerializers {
		serializer := factory()

		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				data, err := serializer.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}

				// Report the size as a custom metric
				b.ReportMetric(float64(len(data)), "bytes")

				// Minimal loop to satisfy benchmark requirements
				for i := 0; i < b.N; i++ {
					_ = data
				}
			})
		}
	}
}
