package handlers

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog/log"
)

// requestBufferPool recycles buffers for reading submission bodies.
// Scrape submissions are small; a credential cookie bag is the largest
// field they carry.
var requestBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

func getRequestBuffer() *bytes.Buffer {
	v := requestBufferPool.Get()
	buf, ok := v.(*bytes.Buffer)
	if !ok {
		log.Warn().Interface("got_type", v).Msg("Unexpected type from request buffer pool")
		return bytes.NewBuffer(make([]byte, 0, 4096))
	}
	return buf
}

func putRequestBuffer(buf *bytes.Buffer) {
	buf.Reset()
	requestBufferPool.Put(buf)
}

// responseBufferPool recycles buffers for encoding responses, sized for
// a full item record, the largest body the service writes.
var responseBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 8192))
	},
}

func getResponseBuffer() *bytes.Buffer {
	v := responseBufferPool.Get()
	buf, ok := v.(*bytes.Buffer)
	if !ok {
		log.Warn().Interface("got_type", v).Msg("Unexpected type from response buffer pool")
		return bytes.NewBuffer(make([]byte, 0, 8192))
	}
	return buf
}

func putResponseBuffer(buf *bytes.Buffer) {
	buf.Reset()
	responseBufferPool.Put(buf)
}
