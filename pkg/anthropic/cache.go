package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint. Every item of a stage shares the same instructions, so the
// prompt is written once and read from cache by the following calls.
// An empty ttl uses the API default of five minutes.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
