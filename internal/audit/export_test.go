package audit

var RunInsertError = runInsertError
