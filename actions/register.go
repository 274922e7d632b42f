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

// Package actions implements the built-in analyzers and registers their
// factories. Each analyzer consumes the record kinds it cares about and
// produces findings on stdout, a file sink, a webhook or Kafka.
package actions

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/evmtrack/evmtrack/track"
)

var logger = log.New("module", "actions")

// RegisterAll installs every built-in factory into the registry. Names match
// the keys of the configuration file's actions table.
func RegisterAll(r *track.Registry) {
	r.Register("Logging", loggingFactory())
	r.Register("JsonLog", jsonLogFactory())
	r.Register("KafkaLog", kafkaLogFactory())
	r.Register("Transfer", transferFactory())
	r.Register("LargeTransfer", largeTransferFactory())
	r.Register("Ownership", ownershipFactory())
	r.Register("ProxyUpgrade", proxyUpgradeFactory())
	r.Register("Deployment", deploymentFactory())
	r.Register("SelectorScan", selectorScanFactory())
	r.Register("TornadoCash", tornadoFactory())
	r.Register("Initscan", initscanFactory())
}
