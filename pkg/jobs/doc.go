// Package jobs runs asynchronous bulk file operations.
//
// # Overview
//
// A job is submitted PENDING and returned to the caller right away. A fixed
// pool of workers drives it to a terminal state:
//
//	PENDING -> PROCESSING -> COMPLETED | FAILED
//	PENDING | PROCESSING -> CANCELLED
//
// Every transition is a conditional UPDATE on the current status, so two
// workers (or a worker and a cancelling user) can never both win. Terminal
// jobs never change again.
//
// # Dispatch
//
// Submitted ids reach the workers through a Dispatcher. ChannelDispatcher is
// an in-process buffered channel and never blocks the submitter.
// AMQPDispatcher publishes ids to a durable RabbitMQ queue and acknowledges a
// message only after the job has been handled. Independently of the
// dispatcher, the engine polls the store for PENDING jobs, which recovers
// work after a restart or a full queue.
//
// # Executors
//
// FileOperations implements every Operation against a node tree:
//
//   - DELETE_BULK soft deletes each selected node.
//   - MOVE re-parents within a scope; across scopes it copies then deletes.
//   - COPY duplicates subtrees, naming collisions "name (copy)", "name (copy 2)".
//   - BULK_UPLOAD turns staged uploads/ objects into file nodes.
//   - COMPRESS writes jobs/{id}/archive.zip and returns its key.
//   - BULK_DOWNLOAD writes the same archive and returns a presigned URL when
//     the object backend can sign one.
//
// Executors call Progress.Checkpoint between files. Once the job is
// CANCELLED it returns ErrCancelled and the executor stops. Work already done
// stays applied; a failure midway marks the job FAILED and the counters tell
// how far it got.
//
// # Usage
//
//	engine := jobs.NewEngine(db,
//		jobs.WithFileOperations(jobs.NewFileOperations(tree, jobs.ArchiveOptions{})),
//		jobs.WithLogger(logger),
//	)
//	go engine.Run(ctx)
//
//	job, err := engine.Submit(ctx, jobs.SubmitRequest{
//		UserID:    "alice",
//		Operation: jobs.OperationCompress,
//		NodeIDs:   []int64{12, 13},
//	})
package jobs
