package core

import "context"

// TaskWithResult and ReplyWithResult for generic PostTaskAndReply pattern
type TaskWithResult[T any] func(ctx context.Context) (T, error)
type ReplyWithResult[T any] func(ctx context.Context, result T, err error)

// =============================================================================
// PostTaskAndReply
// =============================================================================

// PostTaskAndReply runs task on target, then posts reply to replyTarget.
// If task fails (error or panic), reply is not posted and the failure goes to the
// dispatcher's failure handling like any async task.
func PostTaskAndReply(d *Dispatcher, target ThreadHandle, task Task, reply Task, replyTarget ThreadHandle) error {
	name := resolveTaskName(task, "")
	replyName := resolveTaskName(reply, "")

	wrappedTask := func(ctx context.Context) error {
		if err := runTask(ctx, task); err != nil {
			return err
		}
		return d.SubmitAsyncNamed(replyTarget, replyName, reply)
	}
	return d.SubmitAsyncNamed(target, name, wrappedTask)
}

// PostTaskAndReplyWithResult executes a task that returns a result of type T and an error,
// then passes that result to a reply callback on replyTarget.
//
// This function uses closure capture to safely pass the result across threads.
// The reply always sees the values written by the task: the task's writes happen
// before the reply is queued, and queueing happens before the reply runs.
//
// Unlike PostTaskAndReply, a task error is delivered to the reply; only a panic
// suppresses the reply.
//
// Example:
//
//	PostTaskAndReplyWithResult(
//	    dispatcher, renderThread,
//	    func(ctx context.Context) (float64, error) {
//	        return pipeline.LastFrameSeconds(), nil
//	    },
//	    func(ctx context.Context, seconds float64, err error) {
//	        fmt.Printf("frame took %.3fs\n", seconds)
//	    },
//	    uiThread,
//	)
func PostTaskAndReplyWithResult[T any](
	d *Dispatcher,
	target ThreadHandle,
	task TaskWithResult[T],
	reply ReplyWithResult[T],
	replyTarget ThreadHandle,
) error {
	// Declare shared variables to capture result and error
	var result T
	var taskErr error

	wrappedTask := func(ctx context.Context) error {
		result, taskErr = task(ctx)
		return nil
	}

	wrappedReply := func(ctx context.Context) error {
		reply(ctx, result, taskErr)
		return nil
	}

	return PostTaskAndReply(d, target, wrappedTask, wrappedReply, replyTarget)
}
