package tokenize

// DefaultStopWords is the closed list of common English function words
// and filler dropped during tokenization. Grounded on the teacher's
// smaller tool_discovery stopword table, expanded to the ~100-word
// list the search index's field weighting assumes.
var DefaultStopWords = buildStopWords(
	"a", "an", "the",
	"and", "or", "but", "nor", "so", "yet",
	"for", "are", "not", "you", "all",
	"can", "has", "her", "was", "one",
	"our", "out", "this", "that", "these",
	"those", "with", "have", "from", "they",
	"been", "will", "each", "make", "like",
	"just", "than", "them", "some", "into",
	"when", "what", "which", "their", "there",
	"about", "would", "other", "its", "it",
	"is", "am", "be", "being",
	"do", "does", "did", "doing", "to",
	"of", "in", "on", "at", "by",
	"as", "if", "then", "else", "how",
	"why", "who", "whom", "where", "here",
	"we", "us", "i", "me", "my",
	"mine", "he", "him", "his", "she",
	"hers", "itself", "himself",
	"herself", "ourselves", "yourself", "yourselves",
	"themselves", "myself", "your",
	"yours", "too", "very", "again", "further",
	"once", "any", "both", "no", "own",
	"same", "most", "more", "few",
	"only", "up", "down", "over", "under",
	"above", "below", "off", "through", "during",
	"before", "after", "between", "because",
	"while", "until", "against", "also",
)

func buildStopWords(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
