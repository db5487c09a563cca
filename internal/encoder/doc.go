// Package encoder writes exported posts to CSV, Parquet and Avro files.
//
// # Formats
//
//   - CSV: header row followed by one row per post
//   - Parquet: columnar file written with parquet-go, compression per column
//   - Avro: Object Container File written with goavro, optionally gzipped
//
// # Usage
//
// An Encoder creates RowWriters. A RowWriter stays open while posts are
// appended in batches and reports file statistics when closed:
//
//	enc, err := encoder.NewFactory(record.FormatParquet, "snappy").CreateEncoder()
//	if err != nil {
//	    return err
//	}
//
//	w, err := enc.Create("reddit_golang_posts" + enc.FileExtension())
//	if err != nil {
//	    return err
//	}
//	if err := w.Write(posts); err != nil {
//	    w.Close()
//	    return err
//	}
//	stats, err := w.Close()
//
// # Columns
//
// Every format carries the same columns, in this order: post_id,
// post_title, post_text, post_comment_count, post_url, post_date,
// poster_username, subreddit_name. post_date is formatted as
// "2006-01-02 15:04:05" in UTC.
//
// # Thread Safety
//
// Encoders are safe for concurrent use. A RowWriter must be used by one
// goroutine at a time.
package encoder
