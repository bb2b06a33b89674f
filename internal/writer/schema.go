// Package writer consumes PrunedBlock batches off a bounded channel and
// batch-inserts them into the relational durable store. Table layout
// and the gorm model shapes follow a byte-hash-column, autoincrement-id,
// explicit-TableName convention over a MySQL dialect
// (github.com/jinzhu/gorm/dialects/mysql, golang-migrate/v4 mysql
// driver).
package writer

import "time"

// Block is the blocks table row.
type Block struct {
	ID                   uint64 `gorm:"primary_key"`
	Hash                 []byte `gorm:"unique_index;type:binary(32)"`
	Version              uint16
	HashMerkleRoot       []byte `gorm:"type:binary(32)"`
	AcceptedIDMerkleRoot []byte `gorm:"type:binary(32)"`
	UTXOCommitment       []byte `gorm:"type:binary(32)"`
	TimestampMs          int64  `gorm:"index"`
	Bits                 uint32
	Nonce                uint64
	DAAScore             uint64 `gorm:"index"`
	BlueWork             []byte
	BlueScore            uint64
	PruningPoint         []byte `gorm:"type:binary(32)"`
	Difficulty           float64
	SelectedParentHash   []byte `gorm:"type:binary(32)"`
	IsChainBlock         bool
}

func (Block) TableName() string { return "blocks" }

// BlockParent is one row of the blocks_parents edge table.
type BlockParent struct {
	ID         uint64 `gorm:"primary_key"`
	BlockHash  []byte `gorm:"index;type:binary(32)"`
	ParentHash []byte `gorm:"index;type:binary(32)"`
}

func (BlockParent) TableName() string { return "blocks_parents" }

// BlockTransaction is one row of the blocks_transactions edge table,
// carrying the transaction's position within the block.
type BlockTransaction struct {
	ID            uint64 `gorm:"primary_key"`
	BlockHash     []byte `gorm:"index;type:binary(32)"`
	TransactionId []byte `gorm:"index;type:binary(32)"`
	Position      int    `gorm:"index"`
}

func (BlockTransaction) TableName() string { return "blocks_transactions" }

// Transaction is the transactions table row.
type Transaction struct {
	ID            uint64 `gorm:"primary_key"`
	TransactionId []byte `gorm:"unique_index;type:binary(32)"`
	Version       uint16
	LockTime      uint64
	SubnetworkId  []byte `gorm:"index;type:binary(20)"`
	Gas           uint64
	Payload       []byte
	Mass          uint64
	ComputeMass   uint64
	BlockTimeMs   int64  `gorm:"index"`
	Protocol      string `gorm:"index"`
	Fee           *uint64
}

func (Transaction) TableName() string { return "transactions" }

// TransactionInput is one row of the transactions_inputs table.
type TransactionInput struct {
	ID                    uint64 `gorm:"primary_key"`
	TransactionId         []byte `gorm:"index;type:binary(32)"`
	Index                 uint32
	PreviousOutpointTxId  []byte `gorm:"index;type:binary(32)"`
	PreviousOutpointIndex uint32
	SignatureScript       []byte
	Sequence              uint64
}

func (TransactionInput) TableName() string { return "transactions_inputs" }

// TransactionOutput is one row of the transactions_outputs table.
type TransactionOutput struct {
	ID              uint64 `gorm:"primary_key"`
	TransactionId   []byte `gorm:"index;type:binary(32)"`
	Index           uint32
	Value           uint64
	ScriptPublicKey []byte
}

func (TransactionOutput) TableName() string { return "transactions_outputs" }

// DaaSnapshot is a point sample of DAA score against wall-clock time,
// written by the offline snapshot-daa job; the core writer
// never populates it, but it shares the schema migrations.
type DaaSnapshot struct {
	ID          uint64 `gorm:"primary_key"`
	DAAScore    uint64 `gorm:"index"`
	TimestampMs int64  `gorm:"index"`
}

func (DaaSnapshot) TableName() string { return "daa_snapshot" }

// HashRate is a point sample of network hash rate, written by the
// offline snapshot-hash-rate job; shares the schema migrations.
type HashRate struct {
	ID          uint64 `gorm:"primary_key"`
	HashRate    float64
	TimestampMs int64 `gorm:"index"`
}

func (HashRate) TableName() string { return "hash_rate" }

// KeyValue is a generic key/value row used by offline report jobs.
type KeyValue struct {
	Key              string `gorm:"primary_key"`
	Value            string `gorm:"type:text"`
	UpdatedTimestamp time.Time
}

func (KeyValue) TableName() string { return "key_value" }
