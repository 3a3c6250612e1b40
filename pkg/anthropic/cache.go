package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a 5-minute
// cache breakpoint, shared by every enrichment batch of a run.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
