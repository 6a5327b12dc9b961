// Package embeddings generates vector embeddings for pattern text.
//
// Two providers are available: FastEmbed runs BGE-family ONNX models
// locally (requires CGO and the ONNX runtime shared library, which
// EnsureONNXRuntime can download), and TEI talks to a Text Embeddings
// Inference server over HTTP. Both satisfy Provider, which extends
// vectorstore.Embedder with dimension reporting and resource cleanup.
package embeddings
