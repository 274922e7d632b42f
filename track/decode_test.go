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

package track

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/sigs"
)

var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

func transferCatalog() sigs.EventSigMap {
	return sigs.EventSigMap{
		transferTopic.Hex(): {
			Name: "Transfer",
			Sig:  "Transfer(address,address,uint256)",
			Inputs: []sigs.EventInput{
				{Name: "from", Type: "address", Indexed: true},
				{Name: "to", Type: "address", Indexed: true},
				{Name: "value", Type: "uint256"},
			},
		},
	}
}

func transferLog(blockNumber uint64) *types.Log {
	amount := make([]byte, 32)
	big.NewInt(1e18).FillBytes(amount)
	return &types.Log{
		Address: common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"),
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(common.HexToAddress("0xaa00000000000000000000000000000000000001").Bytes()),
			common.BytesToHash(common.HexToAddress("0xbb00000000000000000000000000000000000002").Bytes()),
		},
		Data:        amount,
		BlockNumber: blockNumber,
		TxHash:      common.HexToHash("0x01"),
		TxIndex:     3,
		Index:       7,
	}
}

func TestDecodeLogKnownTopic(t *testing.T) {
	rec := DecodeLog(transferLog(100), transferCatalog())

	assert.Equal(t, "Transfer", rec.Name)
	require.Len(t, rec.Fields, 3)
	assert.Equal(t, "value", rec.Fields[2].Name)
	assert.EqualValues(t, 100, *rec.BlockNumber)
	assert.EqualValues(t, 3, *rec.TxIndex)
	assert.EqualValues(t, 7, *rec.LogIndex)
	require.NotNil(t, rec.Topic0)
	assert.Equal(t, transferTopic, *rec.Topic0)
}

func TestDecodeLogUnknownTopicKeepsRawTopics(t *testing.T) {
	rec := DecodeLog(transferLog(100), sigs.EventSigMap{})

	assert.Empty(t, rec.Name)
	assert.Empty(t, rec.Fields)
	require.Len(t, rec.Topics, 3)
	assert.Equal(t, transferTopic, rec.Topics[0])
}

func TestDecodeFunctionUnknownSelector(t *testing.T) {
	name, args, sel := DecodeFunction([]byte{0xde, 0xad, 0xbe, 0xef, 0x01}, sigs.FuncSigMap{})
	assert.Empty(t, name)
	assert.Empty(t, args)
	require.NotNil(t, sel)
	assert.Equal(t, [4]byte{0xde, 0xad, 0xbe, 0xef}, *sel)

	_, _, none := DecodeFunction([]byte{0x01}, sigs.FuncSigMap{})
	assert.Nil(t, none)
}

func TestNewTxRecordWithReceipt(t *testing.T) {
	contract := common.HexToAddress("0xcc00000000000000000000000000000000000003")
	blockNumber := hexutil.Big(*big.NewInt(55))
	txIndex := hexutil.Uint64(2)
	tx := &client.RPCTransaction{
		Hash:     common.HexToHash("0x02"),
		From:     common.HexToAddress("0xaa00000000000000000000000000000000000001"),
		Input:    hexutil.Bytes{0x81, 0x29, 0xfc, 0x1c},
		Gas:      hexutil.Uint64(21000),
		GasPrice: (*hexutil.Big)(big.NewInt(5)),
	}
	receipt := &client.RPCReceipt{
		TxHash:            tx.Hash,
		TxIndex:           &txIndex,
		BlockNumber:       &blockNumber,
		GasUsed:           hexutil.Uint64(50000),
		CumulativeGasUsed: hexutil.Uint64(100000),
		EffectiveGasPrice: (*hexutil.Big)(big.NewInt(7)),
		ContractAddress:   &contract,
		Status:            hexutil.Uint64(1),
		Logs:              []*types.Log{transferLog(55)},
	}

	rec := NewTxRecord(tx, receipt, sigs.FuncSigMap{})

	assert.Nil(t, rec.To, "deployment has no destination")
	require.NotNil(t, rec.Selector)
	assert.Equal(t, [4]byte{0x81, 0x29, 0xfc, 0x1c}, *rec.Selector)
	assert.EqualValues(t, 1, *rec.Status)
	assert.EqualValues(t, 50000, *rec.GasUsed)
	assert.EqualValues(t, 100000, *rec.CumulativeGasUsed)
	assert.EqualValues(t, 55, *rec.BlockNumber)
	assert.EqualValues(t, 2, *rec.TxIndex)
	require.NotNil(t, rec.ContractAddress)
	assert.Equal(t, contract, *rec.ContractAddress)
	require.Len(t, rec.ReceiptLogs, 1)
	assert.EqualValues(t, 7, rec.EffectiveGasPrice.Int64())
}

func TestNewTxRecordPending(t *testing.T) {
	to := common.HexToAddress("0xbb00000000000000000000000000000000000002")
	tx := &client.RPCTransaction{
		Hash:  common.HexToHash("0x03"),
		From:  common.HexToAddress("0xaa00000000000000000000000000000000000001"),
		To:    &to,
		Input: hexutil.Bytes{},
		Gas:   hexutil.Uint64(21000),
	}
	rec := NewTxRecord(tx, nil, sigs.FuncSigMap{})

	assert.Nil(t, rec.Status)
	assert.Nil(t, rec.BlockNumber)
	assert.Nil(t, rec.ReceiptLogs)
	assert.Nil(t, rec.Selector)
	require.NotNil(t, rec.To)
	assert.Equal(t, to, *rec.To)
}
