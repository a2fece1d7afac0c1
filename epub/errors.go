// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package epub

import "errors"

var (
	// ErrInvalidEPUB means the archive has no usable package document.
	ErrInvalidEPUB = errors.New("epub: invalid EPUB archive")
	// ErrDRMProtected means the content is encrypted with a DRM scheme.
	ErrDRMProtected = errors.New("epub: content is DRM protected")
	ErrNotFound     = errors.New("epub: resource not found")
	// ErrUnsafePath means an href tried to leave the archive root.
	ErrUnsafePath = errors.New("epub: href escapes archive root")
	ErrNoCover    = errors.New("epub: no cover image")
)
