// Package inference streams completions from model backends.
//
// Providers turn backend specific streams into Chunks: text deltas, tool
// call deltas and a final stop reason. A Builder folds the chunks into one
// message.CompletionMessage once the stream ends.
//
// Invariants:
// - Tool call deltas reach ParseSuccess only once the arguments are complete JSON.
// - A stream that ends without a stop reason builds as out_of_tokens.
// - Builder.Add never mutates the receiver.
// - Failover skips profiles in cooldown; cooldown grows with consecutive failures.
//
// Usage:
//
//	provider := inference.NewFailover(inference.FailoverConfig{Profiles: profiles, Logger: logger})
//	stream, err := provider.StreamCompletion(ctx, inference.Request{Messages: msgs})
//	if err != nil {
//		return err
//	}
//	defer stream.Close()
//	var b inference.Builder
//	for {
//		chunk, err := stream.Next(ctx)
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		b = b.Add(chunk)
//	}
//	msg := b.Build()
package inference
