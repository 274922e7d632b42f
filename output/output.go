// Copyright 2024 The evmtrack Authors
// This file is part of the evmtrack library.
//
// The evmtrack library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The evmtrack library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the evmtrack library. If not, see <http://www.gnu.org/licenses/>.

// Package output collects analyzer findings into configurable sinks: the
// console, buffered files with size rotation, or a Kafka broker.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
)

var logger = log.New("module", "output")

// Format selects the serialization of buffered results.
type Format string

const (
	FormatJSON      Format = "json"
	FormatJSONLines Format = "jsonlines"
	FormatCSV       Format = "csv"
	FormatConsole   Format = "console"
)

// Severity grades a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Config mirrors the per-action output block of the configuration file.
type Config struct {
	Format                Format `json:"format" toml:"format"`
	FilePath              string `json:"file_path" toml:"file_path"`
	RotateSizeMB          uint64 `json:"rotate_size_mb" toml:"rotate_size_mb"`
	Compress              bool   `json:"compress" toml:"compress"`
	BufferSize            int    `json:"buffer_size" toml:"buffer_size"`
	AutoFlushIntervalSecs uint64 `json:"auto_flush_interval_secs" toml:"auto_flush_interval_secs"`
}

// DefaultConfig writes to the console with a 100 MB rotation threshold should
// a file be configured later.
func DefaultConfig() Config {
	return Config{
		Format:                FormatConsole,
		RotateSizeMB:          100,
		BufferSize:            100,
		AutoFlushIntervalSecs: 30,
	}
}

// Result is one standardized detection record.
type Result struct {
	Timestamp       int64                  `json:"timestamp"`
	BlockNumber     *uint64                `json:"block_number"`
	TxHash          string                 `json:"tx_hash,omitempty"`
	TxIndex         *uint64                `json:"tx_index,omitempty"`
	LogIndex        *uint64                `json:"log_index,omitempty"`
	ActionType      string                 `json:"action_type"`
	EventType       string                 `json:"event_type"`
	ContractAddress string                 `json:"contract_address,omitempty"`
	Data            map[string]interface{} `json:"data"`
	Severity        Severity               `json:"severity"`
	Tags            []string               `json:"tags"`
}

// NewResult stamps a result with the current time.
func NewResult(actionType, eventType string, data map[string]interface{}, sev Severity) Result {
	return Result{
		Timestamp:  time.Now().Unix(),
		ActionType: actionType,
		EventType:  eventType,
		Data:       data,
		Severity:   sev,
		Tags:       []string{},
	}
}

// Manager buffers results and writes them in the configured format. Rotation
// renames the active file with a numeric counter before the extension
// (results.json -> results.1.json) and reopens a fresh file.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	buf     []Result
	file    *os.File
	size    uint64
	counter int
	stop    chan struct{}
	done    chan struct{}
}

// NewManager opens the configured sink and starts the auto-flush clock.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	m := &Manager{cfg: cfg, stop: make(chan struct{}), done: make(chan struct{})}
	if cfg.FilePath != "" && cfg.Format != FormatConsole {
		f, size, err := openAppend(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		m.file, m.size = f, size
	}
	go m.autoFlush()
	return m, nil
}

func openAppend(path string) (*os.File, uint64, error) {
	var size uint64
	if st, err := os.Stat(path); err == nil {
		size = uint64(st.Size())
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, err
	}
	return f, size, nil
}

func (m *Manager) autoFlush() {
	defer close(m.done)
	interval := time.Duration(m.cfg.AutoFlushIntervalSecs) * time.Second
	if interval == 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				logger.Warn("auto flush failed", "err", err)
			}
		case <-m.stop:
			return
		}
	}
}

// Save queues one result, printing to the console when that is the sink.
func (m *Manager) Save(r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil || m.cfg.Format == FormatConsole {
		printConsole(r)
	}
	if m.file == nil {
		return nil
	}
	m.buf = append(m.buf, r)
	if len(m.buf) >= m.cfg.BufferSize {
		return m.flushLocked()
	}
	return nil
}

// Flush writes all buffered results out.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	if m.file == nil || len(m.buf) == 0 {
		return nil
	}
	if m.cfg.RotateSizeMB > 0 && m.size > m.cfg.RotateSizeMB*1024*1024 {
		if err := m.rotateLocked(); err != nil {
			logger.Warn("file rotation failed", "path", m.cfg.FilePath, "err", err)
		}
	}
	var content []byte
	switch m.cfg.Format {
	case FormatJSON:
		b, err := json.MarshalIndent(m.buf, "", "  ")
		if err != nil {
			return err
		}
		content = append(b, '\n')
	case FormatJSONLines:
		for _, r := range m.buf {
			b, err := json.Marshal(r)
			if err != nil {
				return err
			}
			content = append(content, b...)
			content = append(content, '\n')
		}
	case FormatCSV:
		if m.size == 0 {
			content = append(content, []byte("timestamp,block_number,tx_hash,tx_index,log_index,action_type,event_type,contract_address,severity,tags,data\n")...)
		}
		for _, r := range m.buf {
			content = append(content, []byte(csvLine(r))...)
		}
	default:
		m.buf = m.buf[:0]
		return nil
	}
	if _, err := m.file.Write(content); err != nil {
		return err
	}
	m.size += uint64(len(content))
	m.buf = m.buf[:0]
	return nil
}

func csvLine(r Result) string {
	var block, txIdx, logIdx uint64
	if r.BlockNumber != nil {
		block = *r.BlockNumber
	}
	if r.TxIndex != nil {
		txIdx = *r.TxIndex
	}
	if r.LogIndex != nil {
		logIdx = *r.LogIndex
	}
	data, _ := json.Marshal(r.Data)
	return fmt.Sprintf("%d,%d,%s,%d,%d,%s,%s,%s,%s,%s,%q\n",
		r.Timestamp, block, r.TxHash, txIdx, logIdx, r.ActionType, r.EventType,
		r.ContractAddress, r.Severity, strings.Join(r.Tags, ";"), string(data))
}

// rotateLocked closes the active file, renames it to name.N.ext and reopens
// the original path fresh.
func (m *Manager) rotateLocked() error {
	m.counter++
	path := m.cfg.FilePath
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	var rotated string
	if ext == "" {
		rotated = fmt.Sprintf("%s.%d", stem, m.counter)
	} else {
		rotated = fmt.Sprintf("%s.%d%s", stem, m.counter, ext)
	}
	if err := m.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(path, rotated); err != nil {
		return err
	}
	logger.Info("rotated output file", "from", path, "to", rotated)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	m.file = f
	m.size = 0
	return nil
}

// Close flushes and releases the sink.
func (m *Manager) Close() error {
	close(m.stop)
	<-m.done
	if err := m.Flush(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

var (
	infoColor     = color.New(color.FgCyan)
	warningColor  = color.New(color.FgYellow)
	criticalColor = color.New(color.FgRed, color.Bold)
)

func printConsole(r Result) {
	c := infoColor
	switch r.Severity {
	case SeverityWarning:
		c = warningColor
	case SeverityCritical:
		c = criticalColor
	}
	block := "pending"
	if r.BlockNumber != nil {
		block = fmt.Sprintf("%d", *r.BlockNumber)
	}
	data, _ := json.Marshal(r.Data)
	c.Printf("[%s] %s block=%s tx=%s contract=%s %s\n",
		r.ActionType, r.EventType, block, shorten(r.TxHash), shorten(r.ContractAddress), data)
}

func shorten(s string) string {
	if len(s) <= 18 {
		if s == "" {
			return "-"
		}
		return s
	}
	return s[:10] + ".." + s[len(s)-6:]
}
