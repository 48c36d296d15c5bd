// Package common holds the helpers shared by every source adapter:
// chunking a requested id list into batches that respect both a
// configured batch_size and a concrete GET URL length limit, and
// converting decoded JSON payloads into Record values.
package common

// ChunkByBatchSize splits ids into consecutive chunks of at most
// batchSize elements each, in order.
func ChunkByBatchSize(ids []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = len(ids)
	}
	var out [][]string
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}

// URLBuilder produces the concrete GET URL a batch of ids would result
// in, so SplitByURLLength can measure it without performing a request.
type URLBuilder func(ids []string) string

// SplitByURLLength recursively halves candidateIDs until buildURL(chunk)
// fits within maxURLLength, splitting at the midpoint each time. A
// singleton id that still exceeds the limit is returned alone for the
// caller to log and send by itself. maxURLLength <= 0 disables the
// constraint entirely.
func SplitByURLLength(candidateIDs []string, maxURLLength int, buildURL URLBuilder) [][]string {
	ids := nonEmpty(candidateIDs)
	if len(ids) == 0 {
		return nil
	}
	if maxURLLength <= 0 {
		return [][]string{ids}
	}

	url := buildURL(ids)
	if len(url) <= maxURLLength || len(ids) == 1 {
		return [][]string{ids}
	}

	midpoint := len(ids) / 2
	if midpoint < 1 {
		midpoint = 1
	}
	left := SplitByURLLength(ids[:midpoint], maxURLLength, buildURL)
	right := SplitByURLLength(ids[midpoint:], maxURLLength, buildURL)
	return append(left, right...)
}

func nonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Batches applies ChunkByBatchSize then SplitByURLLength to every
// resulting chunk: batch_size first, then a URL-length-respecting split
// within each batch.
func Batches(ids []string, batchSize, maxURLLength int, buildURL URLBuilder) [][]string {
	var out [][]string
	for _, chunk := range ChunkByBatchSize(ids, batchSize) {
		out = append(out, SplitByURLLength(chunk, maxURLLength, buildURL)...)
	}
	return out
}
