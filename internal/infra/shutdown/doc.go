// Package shutdown coordinates graceful process termination.
//
// Components register hooks in start order; on SIGINT or SIGTERM the
// hooks run in reverse order under one shared timeout:
//
//	h := shutdown.NewHandler(30*time.Second, log)
//	h.OnShutdown("http", srv.Shutdown)
//	h.OnShutdown("checkpoint", writeFinalCheckpoint)
//	err := h.Wait(ctx)
package shutdown
