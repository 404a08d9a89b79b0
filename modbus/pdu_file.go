package modbus

// File record functions: Read File Record and Write File Record.

const (
	// FileReferenceType is the only valid reference type of file record
	// sub-requests.
	FileReferenceType = 6

	// MaxRecordNumber is the highest record number within a file.
	MaxRecordNumber = 0x270F

	// maxFileData is the maximum length of the data following the byte count
	// of a file record PDU.
	maxFileData = maxPayloadLen - 1

	// maxReadFileData is the maximum byte count of a Read File Record request
	// and the maximum data length of its response.
	maxReadFileData = 0xF5

	// minReadFileResponse is the data length of a response carrying a single
	// record.
	minReadFileResponse = 4

	// fileRefLen is the encoded length of a read sub-request and of the header
	// of a write sub-request.
	fileRefLen = 7
)

// checkRecord validates the reference of a file record sub-request.
func checkRecord(fc FunctionCode, refType uint8, file, record, length uint16) error {
	if refType != FileReferenceType {
		return illegalAddress(fc, "reference type", "%d, want %d",
			refType, FileReferenceType)
	}
	if file == 0 {
		return illegalAddress(fc, "file number", "file 0 not addressable")
	}
	if length == 0 {
		return illegalValue(fc, "record length", "zero")
	}
	if record > MaxRecordNumber {
		return illegalAddress(fc, "record number", "0x%04X exceeds 0x%04X",
			record, MaxRecordNumber)
	}
	if int(record)+int(length)-1 > MaxRecordNumber {
		return illegalAddress(fc, "record number", "0x%04X+%d exceeds 0x%04X",
			record, length, MaxRecordNumber)
	}
	return nil
}

// checkFileData checks the total data length of a file record PDU.
func checkFileData(fc FunctionCode, n int) error {
	if n > maxFileData {
		return illegalValue(fc, "data length", "%d exceeds %d", n, maxFileData)
	}
	return nil
}

// FileRecordRef references a range of records within a file.
type FileRecordRef struct {
	// RefType must be FileReferenceType.
	RefType uint8

	// File is the file number (1 to 0xFFFF).
	File uint16

	// Record is the first record number (0 to MaxRecordNumber).
	Record uint16

	// Length is the number of records.
	Length uint16
}

// ReadFileRecordRequest is the request PDU of the Read File Record function.
type ReadFileRecordRequest struct {
	// Records lists the record ranges to read.
	Records []FileRecordRef
}

// Function implements PDU.
func (p *ReadFileRecordRequest) Function() FunctionCode {
	return FunctionReadFileRecord
}

// Len implements PDU.
func (p *ReadFileRecordRequest) Len() int { return 2 + fileRefLen*len(p.Records) }

func (p *ReadFileRecordRequest) isRequest() {}

func (p *ReadFileRecordRequest) validate() error {
	const fc = FunctionReadFileRecord
	if len(p.Records) == 0 {
		return illegalValue(fc, "byte count", "no sub-requests")
	}
	if n := fileRefLen * len(p.Records); n > maxReadFileData {
		return illegalValue(fc, "byte count", "%d exceeds %d", n, maxReadFileData)
	}
	respLen := 0
	for _, ref := range p.Records {
		err := checkRecord(fc, ref.RefType, ref.File, ref.Record, ref.Length)
		if err != nil {
			return err
		}
		respLen += 2 + 2*int(ref.Length)
	}
	if respLen > maxReadFileData {
		return illegalValue(fc, "records", "response length %d exceeds %d",
			respLen, maxReadFileData)
	}
	return nil
}

func (p *ReadFileRecordRequest) put(w *writer) {
	w.uint8(uint8(fileRefLen * len(p.Records)))
	for _, ref := range p.Records {
		w.uint8(ref.RefType)
		w.uint16(ref.File)
		w.uint16(ref.Record)
		w.uint16(ref.Length)
	}
}

func decodeReadFileRecordRequest(r *reader) RequestPDU {
	p := &ReadFileRecordRequest{}
	count := int(r.uint8("byte count"))
	if r.err != nil {
		return p
	}
	if count < fileRefLen || count%fileRefLen != 0 || count > maxReadFileData {
		r.fail(illegalValue(r.fc, "byte count",
			"%d not a multiple of %d in [%d,%d]",
			count, fileRefLen, fileRefLen, maxReadFileData))
		return p
	}
	p.Records = make([]FileRecordRef, count/fileRefLen)
	for i := range p.Records {
		p.Records[i] = FileRecordRef{
			RefType: r.uint8("reference type"),
			File:    r.uint16("file number"),
			Record:  r.uint16("record number"),
			Length:  r.uint16("record length"),
		}
	}
	return p
}

// FileRecordData holds the records read by one sub-request.
type FileRecordData struct {
	// RefType must be FileReferenceType.
	RefType uint8

	// Data holds the record values.
	Data []uint16
}

// ReadFileRecordResponse is the response PDU of the Read File Record
// function.
type ReadFileRecordResponse struct {
	// Records holds one entry per sub-request, in request order.
	Records []FileRecordData
}

// Function implements PDU.
func (p *ReadFileRecordResponse) Function() FunctionCode {
	return FunctionReadFileRecord
}

// dataLen returns the length of the response data.
func (p *ReadFileRecordResponse) dataLen() int {
	n := 0
	for _, rec := range p.Records {
		n += 2 + 2*len(rec.Data)
	}
	return n
}

// Len implements PDU.
func (p *ReadFileRecordResponse) Len() int { return 2 + p.dataLen() }

func (p *ReadFileRecordResponse) isResponse() {}

func (p *ReadFileRecordResponse) validate() error {
	const fc = FunctionReadFileRecord
	if len(p.Records) == 0 {
		return illegalValue(fc, "data length", "no sub-responses")
	}
	for _, rec := range p.Records {
		if rec.RefType != FileReferenceType {
			return illegalAddress(fc, "reference type", "%d, want %d",
				rec.RefType, FileReferenceType)
		}
		if len(rec.Data) == 0 {
			return illegalValue(fc, "file response length", "no record data")
		}
	}
	return checkReadFileResponse(fc, p.dataLen())
}

// checkReadFileResponse checks the data length of a Read File Record
// response.
func checkReadFileResponse(fc FunctionCode, n int) error {
	if n < minReadFileResponse || n > maxReadFileData {
		return illegalValue(fc, "data length", "%d not in [%d,%d]",
			n, minReadFileResponse, maxReadFileData)
	}
	return nil
}

func (p *ReadFileRecordResponse) put(w *writer) {
	w.uint8(uint8(p.dataLen()))
	for _, rec := range p.Records {
		w.uint8(uint8(1 + 2*len(rec.Data)))
		w.uint8(rec.RefType)
		w.words(rec.Data)
	}
}

func decodeReadFileRecordResponse(r *reader) ResponsePDU {
	p := &ReadFileRecordResponse{}
	count := int(r.uint8("data length"))
	if r.err == nil {
		if err := checkReadFileResponse(r.fc, count); err != nil {
			r.fail(err)
		}
	}
	s := r.sub("data", count)
	for s.err == nil && s.remaining() > 0 {
		n := int(s.uint8("file response length"))
		if s.err == nil && (n < 3 || n%2 == 0) {
			s.fail(illegalValue(s.fc, "file response length",
				"%d not odd and at least 3", n))
			break
		}
		p.Records = append(p.Records, FileRecordData{
			RefType: s.uint8("reference type"),
			Data:    s.words("record data", (n-1)/2),
		})
	}
	r.fail(s.err)
	return p
}

// FileRecord is a range of records within a file together with their values.
type FileRecord struct {
	// RefType must be FileReferenceType.
	RefType uint8

	// File is the file number (1 to 0xFFFF).
	File uint16

	// Record is the first record number (0 to MaxRecordNumber).
	Record uint16

	// Data holds the record values. Its length is the record length.
	Data []uint16
}

// fileRecordsLen returns the encoded length of write sub-requests.
func fileRecordsLen(records []FileRecord) int {
	n := 0
	for _, rec := range records {
		n += fileRefLen + 2*len(rec.Data)
	}
	return n
}

// checkFileRecords validates write sub-requests.
func checkFileRecords(fc FunctionCode, records []FileRecord) error {
	if len(records) == 0 {
		return illegalValue(fc, "data length", "no sub-requests")
	}
	for _, rec := range records {
		if len(rec.Data) > maxFileData/2 {
			return illegalValue(fc, "record length", "%d too long", len(rec.Data))
		}
		err := checkRecord(fc, rec.RefType, rec.File, rec.Record,
			uint16(len(rec.Data)))
		if err != nil {
			return err
		}
	}
	return checkFileData(fc, fileRecordsLen(records))
}

func putFileRecords(w *writer, records []FileRecord) {
	w.uint8(uint8(fileRecordsLen(records)))
	for _, rec := range records {
		w.uint8(rec.RefType)
		w.uint16(rec.File)
		w.uint16(rec.Record)
		w.uint16(uint16(len(rec.Data)))
		w.words(rec.Data)
	}
}

// readFileRecords reads write sub-requests, bounded by their data length.
func readFileRecords(r *reader) []FileRecord {
	var records []FileRecord
	count := int(r.uint8("data length"))
	if r.err == nil && (count < fileRefLen+2 || count > maxFileData) {
		r.fail(illegalValue(r.fc, "data length", "%d not in [%d,%d]",
			count, fileRefLen+2, maxFileData))
		return nil
	}
	s := r.sub("data", count)
	for s.err == nil && s.remaining() > 0 {
		rec := FileRecord{
			RefType: s.uint8("reference type"),
			File:    s.uint16("file number"),
			Record:  s.uint16("record number"),
		}
		n := int(s.uint16("record length"))
		rec.Data = s.words("record data", n)
		records = append(records, rec)
	}
	r.fail(s.err)
	return records
}

// WriteFileRecordRequest is the request PDU of the Write File Record
// function.
type WriteFileRecordRequest struct {
	// Records lists the record ranges to write together with their values.
	Records []FileRecord
}

// Function implements PDU.
func (p *WriteFileRecordRequest) Function() FunctionCode {
	return FunctionWriteFileRecord
}

// Len implements PDU.
func (p *WriteFileRecordRequest) Len() int { return 2 + fileRecordsLen(p.Records) }

func (p *WriteFileRecordRequest) isRequest() {}

func (p *WriteFileRecordRequest) validate() error {
	return checkFileRecords(FunctionWriteFileRecord, p.Records)
}

func (p *WriteFileRecordRequest) put(w *writer) {
	putFileRecords(w, p.Records)
}

func decodeWriteFileRecordRequest(r *reader) RequestPDU {
	return &WriteFileRecordRequest{Records: readFileRecords(r)}
}

// WriteFileRecordResponse is the response PDU of the Write File Record
// function. It echoes the request.
type WriteFileRecordResponse struct {
	// Records echoes the written records.
	Records []FileRecord
}

// Function implements PDU.
func (p *WriteFileRecordResponse) Function() FunctionCode {
	return FunctionWriteFileRecord
}

// Len implements PDU.
func (p *WriteFileRecordResponse) Len() int { return 2 + fileRecordsLen(p.Records) }

func (p *WriteFileRecordResponse) isResponse() {}

func (p *WriteFileRecordResponse) validate() error {
	return checkFileRecords(FunctionWriteFileRecord, p.Records)
}

func (p *WriteFileRecordResponse) put(w *writer) {
	putFileRecords(w, p.Records)
}

func decodeWriteFileRecordResponse(r *reader) ResponsePDU {
	return &WriteFileRecordResponse{Records: readFileRecords(r)}
}
