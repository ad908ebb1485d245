package logger

import (
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBufferConcurrentAccess(t *testing.T) {
	buffer := NewBuffer(100)

	var wg sync.WaitGroup
	numGoroutines := 10
	logsPerGoroutine := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < logsPerGoroutine; j++ {
				buffer.Add(LogEntry{
					Level:   "INFO",
					Message: fmt.Sprintf("Log from goroutine %d, iteration %d", id, j),
				})
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = buffer.Recent(10)
		}
	}()

	wg.Wait()
	<-done

	expectedTotal := uint64(numGoroutines * logsPerGoroutine)
	if total := buffer.Total(); total != expectedTotal {
		t.Errorf("Expected %d total entries, got %d", expectedTotal, total)
	}
	if got := len(buffer.Recent(0)); got != 100 {
		t.Errorf("Expected a full buffer of 100, got %d", got)
	}
}

func TestBufferRingBehavior(t *testing.T) {
	bufferSize := 5
	buffer := NewBuffer(bufferSize)

	for i := 0; i < 10; i++ {
		buffer.Add(LogEntry{Level: "INFO", Message: fmt.Sprintf("Log %d", i)})
	}

	logs := buffer.Recent(10)
	if len(logs) != bufferSize {
		t.Fatalf("Expected %d logs in buffer, got %d", bufferSize, len(logs))
	}
	if logs[0].Message != "Log 5" {
		t.Errorf("Expected oldest log to be 'Log 5', got '%s'", logs[0].Message)
	}
	if last := logs[len(logs)-1]; last.Message != "Log 9" {
		t.Errorf("Expected last log to be 'Log 9', got '%s'", last.Message)
	}

	logs = buffer.Recent(2)
	if len(logs) != 2 || logs[0].Message != "Log 8" {
		t.Errorf("Expected the two newest logs, got %+v", logs)
	}
}

func TestBufferNotWrapped(t *testing.T) {
	buffer := NewBuffer(10)
	for i := 0; i < 3; i++ {
		buffer.Add(LogEntry{Message: fmt.Sprintf("Log %d", i)})
	}
	logs := buffer.Recent(0)
	if len(logs) != 3 || logs[0].Message != "Log 0" || logs[2].Message != "Log 2" {
		t.Errorf("Unexpected logs: %+v", logs)
	}
}

func TestBufferCore(t *testing.T) {
	buffer := NewBuffer(10)
	log := zap.New(buffer.Core(zapcore.InfoLevel)).Named("router").With(zap.String("asset", "MINT"))

	log.Debug("hidden")
	log.Info("Entry confirmed", zap.Float64("size_sol", 0.5))

	logs := buffer.Recent(0)
	if len(logs) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(logs))
	}
	entry := logs[0]
	if entry.Level != "INFO" || entry.Logger != "router" || entry.Message != "Entry confirmed" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	if entry.Fields["asset"] != "MINT" || entry.Fields["size_sol"] != 0.5 {
		t.Errorf("Unexpected fields: %+v", entry.Fields)
	}
}
