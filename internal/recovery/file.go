package recovery

// FileName is the name of the recovery file a user downloads after signup.
const FileName = "recovery_key.bin"

// FileBytes returns the recovery-file payload for a code. The file carries
// the code itself; it is the user's out-of-band copy, not the encrypted one
// stored server-side.
func FileBytes(code string) []byte {
	return []byte(code)
}

// VerifyFile checks an uploaded recovery file against the stored ciphertext.
func VerifyFile(fileContent []byte, storedCiphertext string, dataKey []byte) error {
	return Verify(string(fileContent), storedCiphertext, dataKey)
}
