// Package redis implements backend.Backend on top of Redis so that several
// processes can share one data tree and observe each other's writes.
//
// Design Notes
//   - Data: one JSON document per namespace, stored at <prefix>tree:<namespace>
//   - Writes: optimistic WATCH / MULTI read-modify-write, retried on conflict
//   - Server timestamps: resolved from the Redis TIME command inside the write
//   - Change feed: every committed write PUBLISHes its path on
//     <prefix>changes:<namespace>; each online session holds one Pub/Sub
//     subscription and re-reads the locations its listeners observe
//   - Offline sessions drop their subscription; going online again re-reads
//     every listener and reports what changed in between
//
// Trade-offs
//
//	Pros: multi-process fan-out, no extra infrastructure beyond Redis
//	Cons: whole-document writes; large trees should be split across namespaces
//
// Example:
//
//	b, _ := redis.New(redis.Config{Addr: "localhost:6379", KeyPrefix: "rtconn:"})
//	defer b.Close()
//	svc := rtconn.New(b)
//
// Use the memory backend for tests and single-process deployments.
package redis
