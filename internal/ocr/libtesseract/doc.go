// Package libtesseract implements ocr.TextRecognizer on top of libtesseract
// through gosseract. It needs cgo and the tesseract development headers, so it
// lives apart from package ocr and only builds with cgo enabled. Build with
// -tags notesseract to leave it out of a cgo build.
package libtesseract
