// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sender

import "github.com/fragstream/fragsender/internal/transport"

// completionFor builds the per-fragment completion callback handed to
// NetworkManager.SendData. The closure captures frameNumber and
// fragmentIndex by value, which is Go's equivalent of the per-callback
// parameter block the transport owns until it fires the callback exactly
// once — there is nothing to free explicitly, the garbage collector
// reclaims the closure once the transport drops its reference.
func (s *Sender) completionFor(frameNumber uint32, fragmentIndex int) transport.CompletionFunc {
	return func(status transport.SendStatus) {
		switch status {
		case transport.StatusSent:
			s.st.toSendMu.Lock()
			if s.st.toSendBitmap.FrameNumber == frameNumber {
				if empty := s.st.toSendBitmap.Clear(fragmentIndex); empty {
					s.logger.Debug("all fragments confirmed sent",
						"frame_number", frameNumber)
				}
			}
			s.st.toSendMu.Unlock()
		case transport.StatusCancel:
			// Nothing to release; the fragment's scratch buffer was
			// already copied out of the frame's borrowed buffer before
			// SendData was called.
		default:
		}
	}
}
