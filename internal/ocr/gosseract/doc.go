// Package gosseract registers the "gosseract" recognition engine, which links
// libtesseract through cgo instead of running the tesseract binary.
//
// The engine is compiled only with the "ocr" build tag:
//
//	go build -tags ocr ./...
//
// Without the tag, importing this package registers nothing.
package gosseract
