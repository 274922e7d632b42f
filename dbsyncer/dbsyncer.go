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

// Package dbsyncer bulk-imports transaction hashes into a relational job
// queue and fills a receipts table from the node. It is an ancillary tool:
// the tracking pipelines never depend on it.
package dbsyncer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/go-sql-driver/mysql"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
	"golang.org/x/sync/errgroup"

	"github.com/evmtrack/evmtrack/client"
)

var logger = log.New("module", "dbsyncer")

// Job states of the imported_txs queue.
const (
	JobPending    = 0
	JobProcessing = 1
	JobDone       = 2
)

// Config carries the MySQL connection settings.
type Config struct {
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string
	MaxIdleConns int
	MaxOpenConns int
}

// DefaultConfig targets a local MySQL.
func DefaultConfig() *Config {
	return &Config{
		DBHost:       "127.0.0.1",
		DBPort:       "3306",
		MaxIdleConns: 10,
		MaxOpenConns: 20,
	}
}

// ImportedTx is one queued transaction hash.
type ImportedTx struct {
	Hash            string `gorm:"primary_key;size:66"`
	Status          int16  `gorm:"index"`
	ContractAddress string `gorm:"size:42"`
}

// TableName pins the queue table name.
func (ImportedTx) TableName() string { return "imported_txs" }

// ReceiptRecord mirrors the transaction_receipts table.
type ReceiptRecord struct {
	TransactionHash   string `gorm:"primary_key;size:66"`
	TransactionIndex  int64
	BlockHash         string `gorm:"size:66"`
	BlockNumber       int64  `gorm:"index"`
	FromAddress       string `gorm:"size:42"`
	ToAddress         string `gorm:"size:42"`
	CumulativeGasUsed string `gorm:"size:32"`
	GasUsed           string `gorm:"size:32"`
	ContractAddress   string `gorm:"size:42"`
	Status            bool
	EffectiveGasPrice string `gorm:"size:32"`
}

// TableName pins the receipts table name.
func (ReceiptRecord) TableName() string { return "transaction_receipts" }

// DBSyncer wraps the gorm handle.
type DBSyncer struct {
	db *gorm.DB
}

// Open connects to MySQL and prepares the connection pool.
func Open(cfg *Config) (*DBSyncer, error) {
	dsnCfg := mysql.Config{
		User:                 cfg.DBUser,
		Passwd:               cfg.DBPassword,
		Net:                  "tcp",
		Addr:                 cfg.DBHost + ":" + cfg.DBPort,
		DBName:               cfg.DBName,
		ParseTime:            true,
		AllowNativePasswords: true,
	}
	db, err := gorm.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to mysql: %w", err)
	}
	db.DB().SetMaxIdleConns(cfg.MaxIdleConns)
	db.DB().SetMaxOpenConns(cfg.MaxOpenConns)
	return &DBSyncer{db: db}, nil
}

// Close releases the connection pool.
func (s *DBSyncer) Close() error { return s.db.Close() }

// EnsureTables creates the queue and receipt tables when absent.
func (s *DBSyncer) EnsureTables() error {
	return s.db.AutoMigrate(&ImportedTx{}, &ReceiptRecord{}).Error
}

// ResetStuckJobs returns jobs stuck in processing (e.g. after a crash) to
// pending and reports how many were reset.
func (s *DBSyncer) ResetStuckJobs() (int64, error) {
	res := s.db.Model(&ImportedTx{}).Where("status = ?", JobProcessing).Update("status", JobPending)
	return res.RowsAffected, res.Error
}

// CountPendingJobs counts the remaining queue.
func (s *DBSyncer) CountPendingJobs() (int64, error) {
	var count int64
	err := s.db.Model(&ImportedTx{}).Where("status = ?", JobPending).Count(&count).Error
	return count, err
}

// ImportHashes reads a JSON-lines file of {"hash": "0x..."} documents and
// inserts each hash as a pending job, skipping duplicates. Returns the
// number of newly inserted jobs.
func (s *DBSyncer) ImportHashes(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var inserted int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var doc struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			logger.Warn("unparseable import line", "err", err)
			continue
		}
		if len(doc.Hash) != 66 || !strings.HasPrefix(doc.Hash, "0x") {
			logger.Warn("invalid hash skipped", "hash", doc.Hash)
			continue
		}
		job := ImportedTx{Hash: strings.ToLower(doc.Hash), Status: JobPending}
		res := s.db.Where(ImportedTx{Hash: job.Hash}).FirstOrCreate(&job)
		if res.Error != nil {
			return inserted, res.Error
		}
		if res.RowsAffected > 0 {
			inserted++
		}
	}
	return inserted, scanner.Err()
}

// ClaimBatch atomically moves up to limit pending jobs to processing and
// returns their hashes.
func (s *DBSyncer) ClaimBatch(limit int) ([]string, error) {
	var hashes []string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var jobs []ImportedTx
		if err := tx.Where("status = ?", JobPending).Order("hash").Limit(limit).Find(&jobs).Error; err != nil {
			return err
		}
		for _, j := range jobs {
			hashes = append(hashes, j.Hash)
		}
		if len(hashes) == 0 {
			return nil
		}
		return tx.Model(&ImportedTx{}).Where("hash IN (?)", hashes).Update("status", JobProcessing).Error
	})
	return hashes, err
}

// SetJobStatus updates one job's state, optionally recording the deployed
// contract address.
func (s *DBSyncer) SetJobStatus(hash string, status int16, contractAddress string) error {
	updates := map[string]interface{}{"status": status}
	if contractAddress != "" {
		updates["contract_address"] = strings.ToLower(contractAddress)
	}
	return s.db.Model(&ImportedTx{}).Where("hash = ?", hash).Updates(updates).Error
}

// InsertReceipt upserts one receipt row.
func (s *DBSyncer) InsertReceipt(r *client.RPCReceipt) error {
	row := ReceiptRecord{
		TransactionHash:   strings.ToLower(r.TxHash.Hex()),
		FromAddress:       strings.ToLower(r.From.Hex()),
		CumulativeGasUsed: fmt.Sprintf("%d", uint64(r.CumulativeGasUsed)),
		GasUsed:           fmt.Sprintf("%d", uint64(r.GasUsed)),
		Status:            r.Status == 1,
	}
	if r.TxIndex != nil {
		row.TransactionIndex = int64(*r.TxIndex)
	}
	if r.BlockHash != nil {
		row.BlockHash = r.BlockHash.Hex()
	}
	if r.BlockNumber != nil {
		row.BlockNumber = r.BlockNumber.ToInt().Int64()
	}
	if r.To != nil {
		row.ToAddress = strings.ToLower(r.To.Hex())
	}
	if r.ContractAddress != nil {
		row.ContractAddress = strings.ToLower(r.ContractAddress.Hex())
	}
	if r.EffectiveGasPrice != nil {
		row.EffectiveGasPrice = r.EffectiveGasPrice.ToInt().String()
	}
	return s.db.Save(&row).Error
}

// receiptFetcher is the slice of the node client the sync loop uses.
type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*client.RPCReceipt, error)
}

// FetchReceipts drains the job queue: claims batches, fetches each receipt
// through the rate-limited client and stores it. Jobs whose receipt cannot
// be fetched return to pending.
func (s *DBSyncer) FetchReceipts(ctx context.Context, fetcher receiptFetcher, concurrency, batchSize int) error {
	if concurrency <= 0 {
		concurrency = 10
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if _, err := s.ResetStuckJobs(); err != nil {
		return err
	}
	pending, err := s.CountPendingJobs()
	if err != nil {
		return err
	}
	logger.Info("receipt sync started", "pending", pending, "concurrency", concurrency)

	var dbMu sync.Mutex
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		hashes, err := s.ClaimBatch(batchSize)
		if err != nil {
			return err
		}
		if len(hashes) == 0 {
			logger.Info("receipt sync finished")
			return nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, h := range hashes {
			h := h
			g.Go(func() error {
				receipt, err := fetcher.TransactionReceipt(gctx, common.HexToHash(h))
				dbMu.Lock()
				defer dbMu.Unlock()
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn("receipt fetch failed; job returned to queue", "hash", h, "err", err)
					return s.SetJobStatus(h, JobPending, "")
				}
				if receipt == nil {
					logger.Warn("receipt not found", "hash", h)
					return s.SetJobStatus(h, JobDone, "")
				}
				if err := s.InsertReceipt(receipt); err != nil {
					logger.Warn("receipt insert failed", "hash", h, "err", err)
					return s.SetJobStatus(h, JobPending, "")
				}
				contract := ""
				if receipt.ContractAddress != nil {
					contract = receipt.ContractAddress.Hex()
				}
				return s.SetJobStatus(h, JobDone, contract)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}
