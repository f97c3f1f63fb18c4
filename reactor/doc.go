// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode readiness core: a thin epoll wrapper
// that registers raw socket descriptors under small integer tokens and
// delivers edge-triggered, one-shot readiness batches to a single dispatch
// thread.
package reactor
