package serve

import (
	"testing"

	"github.com/ValentinKolb/dBroker/rpc/common"
)

func TestParseShards(t *testing.T) {
	shards, err := parseShards("100=queue, 200 = locks")
	if err != nil {
		t.Fatalf("parseShards() error = %v", err)
	}
	if len(shards) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(shards))
	}
	if shards[0].ShardID != 100 || shards[0].Type != common.ShardTypeLocalIQueue {
		t.Errorf("unexpected first shard %+v", shards[0])
	}
	if shards[1].ShardID != 200 || shards[1].Type != common.ShardTypeLocalLockTable {
		t.Errorf("unexpected second shard %+v", shards[1])
	}

	for _, invalid := range []string{"100", "x=queue", "100=store", ""} {
		if _, err := parseShards(invalid); err == nil {
			t.Errorf("parseShards(%q) should fail", invalid)
		}
	}
}
