// Package llm provides the Ollama text-generation client shared by the
// reformulation and listwise reranking components, plus tolerant parsing
// of structured output from small local models.
package llm
