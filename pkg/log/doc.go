// Package log captures protocol events of the EDHOC/OSCORE client.
//
// Events are recorded at four layers:
//   - Transport: frames sent to and received from the peer (FrameEvent)
//   - Handshake: EDHOC messages (HandshakeEvent)
//   - Security: OSCORE-protected outer messages (MessageEvent)
//   - Application: decrypted CoAP requests and responses (MessageEvent)
//
// State changes of the secure channel and errors have dedicated payloads.
// Protocol capture is separate from operational logging (logrus): it is a
// complete machine-readable trace for debugging.
//
//	logger, _ := log.NewFileLogger("client" + log.FileExtension)
//	coord := exchange.New(cfg, tr, store, exchange.WithProtocolLogger(
//	    log.NewMultiLogger(logger, log.NewLogrusAdapter(nil)),
//	))
//
// Files are a CBOR sequence of events; the client's "log" command views
// and filters them.
package log
