package run

import "context"

// hookWorker runs queued jobs one at a time until the queue is closed.
func (s *Server) hookWorker(ctx context.Context) {
	defer s.wg.Done()
	for job := range s.hookCh {
		if err := s.hook.Run(ctx, job); err != nil {
			s.metrics.Hook(ctx, "failed")
			s.logger.Errorf("hook: %v", err)
			continue
		}
		s.metrics.Hook(ctx, "sent")
	}
}
