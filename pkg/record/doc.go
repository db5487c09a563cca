// Package record defines the core data types shared by the partition pipeline.
//
// # Records
//
// A Record is produced by a source for every well-formed input line:
//
//	rec := record.Record{
//	    Raw:        []byte(`{"subreddit":"golang","created_utc":1700000000}`),
//	    Subreddit:  "golang",
//	    CreatedUTC: 1700000000,
//	    EndOffset:  52,
//	}
//
// # Partition Keys
//
// PartitionKey names one output shard. Its period is the UTC calendar month
// of the record and its category is the sanitized subreddit name:
//
//	key := record.PartitionKey{Period: rec.Period(), Category: "golang"}
//	key.Path("organized", record.ShardExt) // organized/2023-11/golang.jsonl
//
// # Batches
//
// Batch groups consecutive records of one source file. Its Offset is the
// position the checkpoint may advance to once every entry has been flushed.
package record
