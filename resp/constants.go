package resp

// Reply type prefixes.
const (
	PrefixStatus  = '+'
	PrefixError   = '-'
	PrefixInteger = ':'
	PrefixString  = '$'
	PrefixArray   = '*'
)

// Protocol delimiters
const (
	// CRLF terminates every line of the protocol, including bulk payloads.
	CRLF = "\r\n"
)

// Sizing limits
const (
	// MaxPrealloc is the growth threshold of Buffer.EnsureRoom. Below it the
	// buffer doubles, above it the buffer grows by a flat MaxPrealloc.
	MaxPrealloc = 1024 * 1024

	// MaxIdleBuffer is the largest backing store a Reader keeps once all of
	// its input has been consumed.
	MaxIdleBuffer = 16 * 1024

	// maxArrayPrealloc caps the element slice allocated from a declared
	// array length before any element has been read.
	maxArrayPrealloc = 1024

	// headerPadding is the room reserved in front of every command field so
	// the "$<len>\r\n" header can be backfilled once the field is complete.
	headerPadding = len("$") + len("-9223372036854775808") + len(CRLF)
)

var crlfBytes = []byte(CRLF)
