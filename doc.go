// Package tiermem is a tiered memory lifecycle and retrieval engine for
// conversational agents.
//
// Memories enter as episodic records, lose strength over time along an
// importance-derived half-life, regain strength when accessed or applied,
// and climb a fixed phase progression as they prove durable:
//
//	episodic -> compressed_1 -> compressed_2 -> semantic -> pattern -> intuitive
//
// Records whose strength falls below the forgetting threshold move to the
// terminal forgotten phase (a soft delete). Consolidation passes drive
// decay, forgetting, and promotion; cross-tier retrieval fans a query
// embedding out over the memory store and its sibling domains
// (conversations, emotions, knowledge facts, document passages) and merges
// the hits per domain.
//
// Basic usage:
//
//	config, err := tiermem.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := tiermem.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	rec, _ := client.Remember(ctx, "learned to ride a bike", tiermem.WithImportance(0.8))
//	_, _ = client.Reinforce(ctx, rec.ID)
//	stats, _ := client.ConsolidateMemories(ctx, 100, true, 0)
//	results, _ := client.SearchAllText(ctx, "bike", tiermem.WithTopK(5))
//	_ = stats
//	_ = results
package tiermem
