package model_test

import (
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/kaspalytics/kaspalytics-go/internal/kaspahash"
	"github.com/kaspalytics/kaspalytics-go/internal/model"
)

func mustHash(t *testing.T, b byte) kaspahash.Hash {
	t.Helper()
	raw := make([]byte, kaspahash.Size)
	for i := range raw {
		raw[i] = b
	}
	h, err := kaspahash.NewFromSlice(raw)
	if err != nil {
		t.Fatalf("NewFromSlice: %s", err)
	}
	return h
}

func TestCacheBlockCloneIsDeepCopy(t *testing.T) {
	orig := &model.CacheBlock{
		Hash:         mustHash(t, 1),
		ParentHashes: []kaspahash.BlockHash{mustHash(t, 2), mustHash(t, 3)},
		BlueWork:     []byte{1, 2, 3},
		Transactions: []kaspahash.TxId{mustHash(t, 4)},
	}

	clone := orig.Clone()
	if !reflect.DeepEqual(orig, clone) {
		t.Fatalf("clone mismatch:\norig:  %s\nclone: %s", spew.Sdump(orig), spew.Sdump(clone))
	}

	clone.ParentHashes[0] = mustHash(t, 9)
	clone.BlueWork[0] = 9
	clone.Transactions[0] = mustHash(t, 9)

	if orig.ParentHashes[0] == clone.ParentHashes[0] {
		t.Error("mutating clone.ParentHashes affected orig")
	}
	if orig.BlueWork[0] == clone.BlueWork[0] {
		t.Error("mutating clone.BlueWork affected orig")
	}
	if orig.Transactions[0] == clone.Transactions[0] {
		t.Error("mutating clone.Transactions affected orig")
	}
}

func TestCacheBlockCloneNil(t *testing.T) {
	var b *model.CacheBlock
	if b.Clone() != nil {
		t.Error("Clone on a nil *CacheBlock should return nil")
	}
}

func TestCacheTransactionCloneIsDeepCopy(t *testing.T) {
	fee := uint64(100)
	acceptingHash := mustHash(t, 5)
	orig := &model.CacheTransaction{
		Id: mustHash(t, 1),
		Inputs: []model.TransactionInput{
			{SignatureScript: []byte{0x01, 0x02}},
		},
		Outputs: []model.TransactionOutput{
			{Value: 10, ScriptPublicKey: []byte{0xaa}},
		},
		Payload:            []byte{0x01, 0x02, 0x03},
		Blocks:             []kaspahash.BlockHash{mustHash(t, 6)},
		AcceptingBlockHash: &acceptingHash,
		Fee:                &fee,
	}

	clone := orig.Clone()
	if !reflect.DeepEqual(orig, clone) {
		t.Fatalf("clone mismatch:\norig:  %s\nclone: %s", spew.Sdump(orig), spew.Sdump(clone))
	}

	clone.Inputs[0].SignatureScript[0] = 0xff
	clone.Outputs[0].ScriptPublicKey[0] = 0xff
	clone.Payload[0] = 0xff
	clone.Blocks[0] = mustHash(t, 9)
	*clone.AcceptingBlockHash = mustHash(t, 9)
	*clone.Fee = 999

	if orig.Inputs[0].SignatureScript[0] == clone.Inputs[0].SignatureScript[0] {
		t.Error("mutating clone input script affected orig")
	}
	if orig.Outputs[0].ScriptPublicKey[0] == clone.Outputs[0].ScriptPublicKey[0] {
		t.Error("mutating clone output script affected orig")
	}
	if orig.Payload[0] == clone.Payload[0] {
		t.Error("mutating clone payload affected orig")
	}
	if orig.Blocks[0] == clone.Blocks[0] {
		t.Error("mutating clone.Blocks affected orig")
	}
	if *orig.AcceptingBlockHash == *clone.AcceptingBlockHash {
		t.Error("mutating clone.AcceptingBlockHash affected orig")
	}
	if *orig.Fee == *clone.Fee {
		t.Error("mutating clone.Fee affected orig")
	}
}

func TestCacheTransactionCloneNilPointerFields(t *testing.T) {
	orig := &model.CacheTransaction{Id: mustHash(t, 1)}
	clone := orig.Clone()
	if clone.AcceptingBlockHash != nil || clone.Fee != nil {
		t.Error("cloning a transaction with nil optional fields should keep them nil")
	}
}

func TestIsCoinbase(t *testing.T) {
	coinbaseTx := &model.CacheTransaction{SubnetworkId: model.CoinbaseSubnetworkId}
	if !coinbaseTx.IsCoinbase() {
		t.Error("expected transaction with the coinbase subnetwork id to report IsCoinbase")
	}

	other := &model.CacheTransaction{}
	if other.IsCoinbase() {
		t.Error("zero-value subnetwork id should not report IsCoinbase")
	}
}

func TestNewSecondMetricsInitializesMaps(t *testing.T) {
	m := model.NewSecondMetrics(42)
	if m.Second != 42 {
		t.Errorf("Second: got %d, want 42", m.Second)
	}
	if m.ProtocolAccepted == nil || m.MiningNodeVersionBlockCounts == nil {
		t.Error("NewSecondMetrics should initialize both maps, not leave them nil")
	}
	m.ProtocolAccepted[model.ProtocolKRC] = 1
	m.MiningNodeVersionBlockCounts["v1.0.0"] = 1
}

func TestSecondMetricsCloneIsDeepCopy(t *testing.T) {
	orig := model.NewSecondMetrics(1)
	orig.ProtocolAccepted[model.ProtocolKNS] = 3
	orig.MiningNodeVersionBlockCounts["v1.0.0"] = 7

	clone := orig.Clone()
	if !reflect.DeepEqual(orig, clone) {
		t.Fatalf("clone mismatch:\norig:  %s\nclone: %s", spew.Sdump(orig), spew.Sdump(clone))
	}

	clone.ProtocolAccepted[model.ProtocolKNS] = 99
	clone.MiningNodeVersionBlockCounts["v1.0.0"] = 99

	if orig.ProtocolAccepted[model.ProtocolKNS] == clone.ProtocolAccepted[model.ProtocolKNS] {
		t.Error("mutating clone.ProtocolAccepted affected orig")
	}
	if orig.MiningNodeVersionBlockCounts["v1.0.0"] == clone.MiningNodeVersionBlockCounts["v1.0.0"] {
		t.Error("mutating clone.MiningNodeVersionBlockCounts affected orig")
	}
}

func TestSaturatingDecrementFloorsAtZero(t *testing.T) {
	cases := []struct {
		start, delta, want int64
	}{
		{5, 2, 3},
		{5, 5, 0},
		{5, 10, 0},
		{0, 1, 0},
		{0, 0, 0},
	}
	for _, c := range cases {
		counter := c.start
		model.SaturatingDecrement(&counter, c.delta)
		if counter != c.want {
			t.Errorf("SaturatingDecrement(%d, %d): got %d, want %d", c.start, c.delta, counter, c.want)
		}
	}
}

func TestProtocolConstants(t *testing.T) {
	if model.ProtocolNone != "" {
		t.Errorf("ProtocolNone: got %q, want empty string", model.ProtocolNone)
	}
	want := map[model.Protocol]string{
		model.ProtocolKRC:     "KRC",
		model.ProtocolKNS:     "KNS",
		model.ProtocolKasia:   "Kasia",
		model.ProtocolKasplex: "Kasplex",
		model.ProtocolKSocial: "KSocial",
		model.ProtocolIgra:    "Igra",
	}
	for proto, s := range want {
		if string(proto) != s {
			t.Errorf("protocol constant: got %q, want %q", string(proto), s)
		}
	}
}
