package db

var (
	NamespaceActiveCheckpoint = []byte("ac")
	NamespaceCheckpointHead   = []byte("ch")
	NamespaceBalanceSum       = []byte("bs")
	NamespaceShareOwner       = []byte("so")
	EmptyKey                  = []byte{}
	Separator                 = []byte("|")
)

func PrependNamespace(namespace []byte, key []byte) []byte {
	if namespace != nil {
		return append(append(namespace, Separator...), key...)
	}
	return key
}

func ConvNilToBytes(byteArray []byte) []byte {
	if byteArray == nil {
		return []byte{}
	}
	return byteArray
}
