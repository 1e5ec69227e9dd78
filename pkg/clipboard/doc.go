// Package clipboard stages copy and cut selections between a user's clicks.
//
// # Overview
//
// Each user has at most one entry. Staging replaces whatever was there:
//
//	entry, err := svc.Stage(ctx, clipboard.StageRequest{
//		UserID:    "alice",
//		Operation: clipboard.OperationCut,
//		NodeIDs:   []int64{12, 13},
//		Source:    vfs.ProjectScope(7),
//	})
//
// The clipboard only records intent. The caller performs the paste with the
// staged node ids and then calls MarkConsumed, which closes CUT entries.
//
// # Expiry
//
// Entries are active for 24 hours by default. GetActive compares the expiry
// with the clock on every read, so correctness never waits on ExpireDue. The
// sweep marks entries EXPIRED and deletes closed entries an hour later.
//
// # Stores
//
// RedisStore keeps entries under clipboard:<userID> with a TTL of the entry
// lifetime plus the grace hour. MemoryStore serves single-process deployments
// and tests.
package clipboard
